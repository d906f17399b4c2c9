package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kardianos/service"

	"imagepipeline/core"
)

// serviceStopTimeout bounds how long the service manager waits for the
// pipeline to drain after a stop request.
const serviceStopTimeout = 30 * time.Second

// program runs the pipeline under the host service manager (Windows SCM,
// systemd or launchd).
type program struct {
	run     func(context.Context) int
	cancel  context.CancelFunc
	done    chan struct{}
	code    int
	timeout time.Duration
}

// Start must not block, so the daemon runs in its own goroutine.
func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	runFn := p.run
	if runFn == nil {
		runFn = run
	}
	go func() {
		defer close(p.done)
		p.code = runFn(ctx)
	}()
	return nil
}

// Stop cancels the daemon context and waits for the shutdown sequence.
func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	select {
	case <-p.done:
		if p.code != core.ExitCodeSuccess && !core.IsSignalExit(p.code) {
			return fmt.Errorf("pipeline exited with %s", core.ExitCodeName(p.code))
		}
		return nil
	case <-time.After(p.stopTimeout()):
		return errors.New("timeout waiting for pipeline to stop")
	}
}

func (p *program) stopTimeout() time.Duration {
	if p.timeout > 0 {
		return p.timeout
	}
	return serviceStopTimeout
}

func serviceConfig() *service.Config {
	return &service.Config{
		Name:        "imagepipeline",
		DisplayName: "Image Pipeline",
		Description: "Pooled image decode pipeline with pool statistics endpoint",
		Option: service.KeyValue{
			"StartType": "automatic",
			"Restart":   "on-failure",
		},
	}
}

func newService(p *program) (service.Service, error) {
	s, err := service.New(p, serviceConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, nil
}

// runService hands control to the service manager. It returns false when
// the process was started from a terminal.
func runService() (bool, int) {
	if service.Interactive() {
		return false, core.ExitCodeSuccess
	}
	p := &program{}
	s, err := newService(p)
	if err != nil {
		return true, core.ExitCodeError
	}
	if err := s.Run(); err != nil {
		if logger, lerr := s.Logger(nil); lerr == nil {
			_ = logger.Error(err)
		}
		return true, core.ExitCodeError
	}
	return true, p.code
}

var serviceActions = map[string]string{
	"install":   "install",
	"uninstall": "uninstall",
	"remove":    "uninstall",
	"start":     "start",
	"stop":      "stop",
	"restart":   "restart",
}

// handleServiceCommand dispatches "install", "uninstall", "start", "stop",
// "restart", "status" and "help". It returns false when args carry no
// service command so the caller runs the daemon in the foreground.
func handleServiceCommand(args []string, out io.Writer) (bool, error) {
	if len(args) < 2 {
		return false, nil
	}
	cmd := args[1]

	switch cmd {
	case "help", "-h", "--help", "-help":
		printServiceUsage(out)
		return true, nil
	case "status":
		s, err := newService(&program{})
		if err != nil {
			return true, err
		}
		status, err := s.Status()
		if err != nil {
			return true, fmt.Errorf("failed to get service status: %w", err)
		}
		fmt.Fprintln(out, statusText(status))
		return true, nil
	}

	action, ok := serviceActions[cmd]
	if !ok {
		return false, nil
	}
	s, err := newService(&program{})
	if err != nil {
		return true, err
	}
	if err := service.Control(s, action); err != nil {
		return true, fmt.Errorf("failed to %s service: %w", action, err)
	}
	fmt.Fprintf(out, "Service %s: ok\n", action)
	return true, nil
}

func statusText(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "Service is running"
	case service.StatusStopped:
		return "Service is stopped"
	default:
		return "Service status unknown"
	}
}

func printServiceUsage(out io.Writer) {
	fmt.Fprintln(out, "imagepipeline service management")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: imagepipeline <command>")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  install    Install the pipeline as a system service")
	fmt.Fprintln(out, "  uninstall  Remove the system service (alias: remove)")
	fmt.Fprintln(out, "  start      Start the service")
	fmt.Fprintln(out, "  stop       Stop the service")
	fmt.Fprintln(out, "  restart    Restart the service")
	fmt.Fprintln(out, "  status     Show the current service status")
	fmt.Fprintln(out, "  help       Show this help message")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Run without arguments to start the pipeline in the foreground.")
}
