// Package validation runs the startup checks that decide whether the
// pipeline daemon can start, printing colored progress as it goes.
package validation

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// StepStatus represents the status of a validation step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepPassed
	StepFailed
	StepWarning
	StepSkipped
)

// String returns the string representation of a step status.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepWarning:
		return "warning"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Step is the outcome of one check.
type Step struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
	Latency time.Duration
}

// Check is a named startup check. Run returns StepPassed, StepWarning or
// StepFailed with a short message; a non-nil error is attached to the step.
type Check struct {
	Name string
	Run  func(ctx context.Context) (StepStatus, string, error)
}

// SuiteResult represents the complete result of a suite run.
type SuiteResult struct {
	Steps       []Step
	TotalSteps  int
	PassedSteps int
	FailedSteps int
	Warnings    int
	Duration    time.Duration
	Success     bool
}

// Suite runs checks in order.
type Suite struct {
	title        string
	checks       []Check
	output       io.Writer
	timeout      time.Duration
	showProgress bool
	failFast     bool
}

// NewSuite creates a Suite writing progress to stdout.
func NewSuite(title string, checks ...Check) *Suite {
	return &Suite{
		title:        title,
		checks:       checks,
		output:       os.Stdout,
		timeout:      10 * time.Second,
		showProgress: true,
	}
}

// Add appends checks to the suite.
func (s *Suite) Add(checks ...Check) *Suite {
	s.checks = append(s.checks, checks...)
	return s
}

// WithOutput sets the output writer for progress messages.
func (s *Suite) WithOutput(w io.Writer) *Suite {
	s.output = w
	return s
}

// WithTimeout bounds each check.
func (s *Suite) WithTimeout(timeout time.Duration) *Suite {
	s.timeout = timeout
	return s
}

// WithShowProgress enables or disables progress output.
func (s *Suite) WithShowProgress(show bool) *Suite {
	s.showProgress = show
	return s
}

// WithFailFast skips the remaining checks after the first failure.
func (s *Suite) WithFailFast(failFast bool) *Suite {
	s.failFast = failFast
	return s
}

// Validate runs every check and returns the collected result.
func (s *Suite) Validate(ctx context.Context) SuiteResult {
	start := time.Now()
	steps := make([]Step, 0, len(s.checks))

	if s.showProgress {
		s.printHeader(s.title)
	}

	failed := false
	for _, check := range s.checks {
		if failed && s.failFast {
			step := Step{Name: check.Name, Status: StepSkipped, Message: "Skipped after an earlier failure"}
			if s.showProgress {
				s.printStep(step)
			}
			steps = append(steps, step)
			continue
		}
		step := s.runStep(ctx, check)
		if step.Status == StepFailed {
			failed = true
		}
		steps = append(steps, step)
	}

	result := buildResult(steps, start)
	if s.showProgress {
		s.printSummary(result)
	}
	return result
}

func (s *Suite) runStep(ctx context.Context, check Check) Step {
	if s.showProgress {
		fmt.Fprintf(s.output, "  ◌ %s...", check.Name)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	step := Step{Name: check.Name}
	start := time.Now()
	step.Status, step.Message, step.Error = runCheck(ctx, check)
	step.Latency = time.Since(start)

	if s.showProgress {
		s.printStep(step)
	}
	return step
}

func runCheck(ctx context.Context, check Check) (status StepStatus, msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, msg, err = StepFailed, "check panicked", fmt.Errorf("%s: %v", check.Name, r)
		}
	}()
	if check.Run == nil {
		return StepSkipped, "no check function", nil
	}
	status, msg, err = check.Run(ctx)
	if status == StepPending || status == StepRunning {
		status = StepFailed
	}
	return status, msg, err
}

func buildResult(steps []Step, start time.Time) SuiteResult {
	result := SuiteResult{
		Steps:      steps,
		TotalSteps: len(steps),
		Duration:   time.Since(start),
		Success:    true,
	}
	for _, step := range steps {
		switch step.Status {
		case StepPassed:
			result.PassedSteps++
		case StepFailed:
			result.FailedSteps++
			result.Success = false
		case StepWarning:
			result.Warnings++
		}
	}
	return result
}

func (s *Suite) printHeader(title string) {
	fmt.Fprintln(s.output)
	color.New(color.FgCyan, color.Bold).Fprintf(s.output, "━━━ %s ━━━\n", title)
	fmt.Fprintln(s.output)
}

func (s *Suite) printStep(step Step) {
	var icon string
	var clr *color.Color

	switch step.Status {
	case StepPassed:
		icon = "✓"
		clr = color.New(color.FgGreen)
	case StepFailed:
		icon = "✗"
		clr = color.New(color.FgRed)
	case StepWarning:
		icon = "!"
		clr = color.New(color.FgYellow)
	case StepSkipped:
		icon = "○"
		clr = color.New(color.FgHiBlack)
	default:
		icon = "?"
		clr = color.New(color.FgWhite)
	}

	fmt.Fprintf(s.output, "\r")
	clr.Fprintf(s.output, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Message)
	}
	fmt.Fprintln(s.output)

	if step.Status == StepFailed && step.Error != nil {
		color.New(color.FgRed).Fprintf(s.output, "    └─ %s\n", step.Error.Error())
	}
}

func (s *Suite) printSummary(result SuiteResult) {
	fmt.Fprintln(s.output)
	if result.Success {
		ok := color.New(color.FgGreen, color.Bold)
		ok.Fprintf(s.output, "━━━ Validation Passed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d/%d checks passed in %v)",
			result.PassedSteps, result.TotalSteps, result.Duration.Round(time.Millisecond))
		ok.Fprintln(s.output, " ━━━")
	} else {
		bad := color.New(color.FgRed, color.Bold)
		bad.Fprintf(s.output, "━━━ Validation Failed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d passed, %d failed)",
			result.PassedSteps, result.FailedSteps)
		bad.Fprintln(s.output, " ━━━")
	}
	fmt.Fprintln(s.output)
}

// Errors returns the errors of every step that reported one.
func (r SuiteResult) Errors() []error {
	var errs []error
	for _, step := range r.Steps {
		if step.Error != nil {
			errs = append(errs, step.Error)
		}
	}
	return errs
}

// FirstError returns the first step error, or nil.
func (r SuiteResult) FirstError() error {
	for _, step := range r.Steps {
		if step.Error != nil {
			return step.Error
		}
	}
	return nil
}

// Summary returns a one-line description of the run.
func (r SuiteResult) Summary() string {
	var sb strings.Builder
	if r.Success {
		sb.WriteString("Validation Passed: ")
	} else {
		sb.WriteString("Validation Failed: ")
	}
	fmt.Fprintf(&sb, "%d/%d checks passed", r.PassedSteps, r.TotalSteps)
	if r.FailedSteps > 0 {
		fmt.Fprintf(&sb, ", %d failed", r.FailedSteps)
	}
	if r.Warnings > 0 {
		fmt.Fprintf(&sb, ", %d warnings", r.Warnings)
	}
	fmt.Fprintf(&sb, " (took %v)", r.Duration.Round(time.Millisecond))
	return sb.String()
}
