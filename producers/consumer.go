// Package producers carries image results from producers to consumers and
// holds the decode producer that fills pooled bitmaps.
package producers

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"imagepipeline/core"
)

// Consumer receives the results of a producer. After a terminal call (a
// result with isLast set, a failure or a cancellation) no further calls
// have any effect.
type Consumer[T any] interface {
	OnNewResult(result T, isLast bool)
	OnFailure(err error)
	OnCancellation()
	OnProgressUpdate(progress float32)
}

// ConsumerHandler holds the logic behind a BaseConsumer. Errors returned
// by the handler go to the consumer's unhandled-error hook.
type ConsumerHandler[T any] interface {
	OnNewResultImpl(result T, isLast bool) error
	OnFailureImpl(err error) error
	OnCancellationImpl() error
	OnProgressUpdateImpl(progress float32) error
}

// HandlerFuncs adapts plain functions to ConsumerHandler. Nil fields do
// nothing.
type HandlerFuncs[T any] struct {
	NewResult      func(result T, isLast bool) error
	Failure        func(err error) error
	Cancellation   func() error
	ProgressUpdate func(progress float32) error
}

// OnNewResultImpl implements ConsumerHandler.
func (h HandlerFuncs[T]) OnNewResultImpl(result T, isLast bool) error {
	if h.NewResult == nil {
		return nil
	}
	return h.NewResult(result, isLast)
}

// OnFailureImpl implements ConsumerHandler.
func (h HandlerFuncs[T]) OnFailureImpl(err error) error {
	if h.Failure == nil {
		return nil
	}
	return h.Failure(err)
}

// OnCancellationImpl implements ConsumerHandler.
func (h HandlerFuncs[T]) OnCancellationImpl() error {
	if h.Cancellation == nil {
		return nil
	}
	return h.Cancellation()
}

// OnProgressUpdateImpl implements ConsumerHandler.
func (h HandlerFuncs[T]) OnProgressUpdateImpl(progress float32) error {
	if h.ProgressUpdate == nil {
		return nil
	}
	return h.ProgressUpdate(progress)
}

// ConsumerOption configures a BaseConsumer.
type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	logger      *zap.Logger
	errorLogger core.ErrorLogger
	hook        func(error)
}

// WithConsumerLogger sets the logger used for unhandled handler errors.
func WithConsumerLogger(l *zap.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConsumerErrorLogger reports unhandled handler errors to l.
func WithConsumerErrorLogger(l core.ErrorLogger) ConsumerOption {
	return func(o *consumerOptions) {
		o.errorLogger = core.OrNoOp(l)
	}
}

// WithUnhandledErrorHook replaces the default handling of handler errors.
func WithUnhandledErrorHook(hook func(error)) ConsumerOption {
	return func(o *consumerOptions) {
		o.hook = hook
	}
}

// BaseConsumer turns a ConsumerHandler into a Consumer with one-shot
// terminal semantics.
//
// Calls are queued in arrival order and the handler sees them one at a
// time. Whichever goroutine finds the consumer idle runs the handler and
// keeps draining the queue until it is empty; calls arriving meanwhile,
// including calls the handler makes on its own consumer, are queued and
// return immediately. The first terminal call marks the consumer finished
// when it is queued; from then on every new call is dropped, while calls
// queued before it still run.
//
// Errors and panics from the handler never reach the producer. They go to
// the unhandled-error hook, which by default logs them.
//
// Example:
//
//	c := NewBaseConsumer[*Result](HandlerFuncs[*Result]{
//	    NewResult: func(r *Result, isLast bool) error {
//	        if isLast {
//	            results <- r
//	        }
//	        return nil
//	    },
//	    Failure: func(err error) error {
//	        errs <- err
//	        return nil
//	    },
//	})
type BaseConsumer[T any] struct {
	handler     ConsumerHandler[T]
	logger      *zap.Logger
	errorLogger core.ErrorLogger
	hook        func(error)

	mu          sync.Mutex
	pending     []consumerCall
	dispatching bool
	finished    atomic.Bool
}

type consumerCall struct {
	op string
	fn func() error
}

var _ Consumer[int] = (*BaseConsumer[int])(nil)

// NewBaseConsumer wraps handler.
func NewBaseConsumer[T any](handler ConsumerHandler[T], opts ...ConsumerOption) *BaseConsumer[T] {
	o := consumerOptions{
		logger:      zap.NewNop(),
		errorLogger: core.NoOpErrorLogger{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &BaseConsumer[T]{
		handler:     handler,
		logger:      o.logger,
		errorLogger: o.errorLogger,
		hook:        o.hook,
	}
}

// IsFinished reports whether a terminal call has been made.
func (c *BaseConsumer[T]) IsFinished() bool {
	return c.finished.Load()
}

// OnNewResult delivers a result. isLast makes it the terminal call.
func (c *BaseConsumer[T]) OnNewResult(result T, isLast bool) {
	c.dispatch("OnNewResult", isLast, func() error {
		return c.handler.OnNewResultImpl(result, isLast)
	})
}

// OnFailure delivers a failure and finishes the consumer.
func (c *BaseConsumer[T]) OnFailure(err error) {
	c.dispatch("OnFailure", true, func() error {
		return c.handler.OnFailureImpl(err)
	})
}

// OnCancellation finishes the consumer without a result.
func (c *BaseConsumer[T]) OnCancellation() {
	c.dispatch("OnCancellation", true, c.handler.OnCancellationImpl)
}

// OnProgressUpdate reports progress, clamped to [0, 1].
func (c *BaseConsumer[T]) OnProgressUpdate(progress float32) {
	progress = min(max(progress, 0), 1)
	c.dispatch("OnProgressUpdate", false, func() error {
		return c.handler.OnProgressUpdateImpl(progress)
	})
}

// dispatch checks the latch and queues the call under the lock, then runs
// the queue unless another call is already doing so.
func (c *BaseConsumer[T]) dispatch(op string, terminal bool, fn func() error) {
	if c.finished.Load() {
		return
	}
	c.mu.Lock()
	if c.finished.Load() {
		c.mu.Unlock()
		return
	}
	if terminal {
		c.finished.Store(true)
	}
	c.pending = append(c.pending, consumerCall{op: op, fn: fn})
	if c.dispatching {
		c.mu.Unlock()
		return
	}
	c.dispatching = true

	for len(c.pending) > 0 {
		call := c.pending[0]
		c.pending[0] = consumerCall{}
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.invoke(call.op, call.fn)
		c.mu.Lock()
	}
	c.pending = nil
	c.dispatching = false
	c.mu.Unlock()
}

func (c *BaseConsumer[T]) invoke(op string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			c.onUnhandledError(op, fmt.Errorf("panic: %v", p))
		}
	}()
	if err := fn(); err != nil {
		c.onUnhandledError(op, err)
	}
}

func (c *BaseConsumer[T]) onUnhandledError(op string, err error) {
	if c.hook != nil {
		c.hook(err)
		return
	}
	c.logger.Error("unhandled consumer error", zap.String("callback", op), zap.Error(err))
	c.errorLogger.LogError(core.CategoryConsumer, "BaseConsumer", fmt.Sprintf("%s: %v", op, err))
}
