package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mocko-designs/gateway/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultMaxRestarts    = 5
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = time.Minute
)

// ErrRestartBudgetExhausted is reported when a loop keeps failing
var ErrRestartBudgetExhausted = errors.New("restart budget exhausted")

type options struct {
	maxRestarts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures Go
type Option func(*options)

// WithMaxRestarts sets how many failures are restarted before giving up
func WithMaxRestarts(n int) Option {
	return func(o *options) { o.maxRestarts = n }
}

// WithBackoff sets the first restart delay and its cap
func WithBackoff(initial, max time.Duration) Option {
	return func(o *options) {
		o.initialBackoff = initial
		o.maxBackoff = max
	}
}

// Go runs fn in a goroutine until ctx is cancelled or fn returns nil.
// Errors and panics restart fn after an exponential backoff. Once the restart
// budget is spent the final error is sent on the returned channel, which is
// closed when the loop ends either way.
func Go(ctx context.Context, logger *zap.Logger, name string, fn func(context.Context) error, opts ...Option) <-chan error {
	o := options{
		maxRestarts:    DefaultMaxRestarts,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(&o)
	}

	failed := make(chan error, 1)
	go func() {
		defer close(failed)

		backoff := o.initialBackoff
		for restarts := 0; ; restarts++ {
			err := run(ctx, logger, name, fn)
			if ctx.Err() != nil || err == nil {
				logger.Info("background_task_stopped", zap.String("task", name))
				return
			}

			if restarts >= o.maxRestarts {
				logger.Error("background_task_failed",
					zap.String("task", name),
					zap.Int("restarts", restarts),
					zap.Error(err),
				)
				failed <- fmt.Errorf("%s: %w: %w", name, ErrRestartBudgetExhausted, err)
				return
			}

			logger.Warn("background_task_restarting",
				zap.String("task", name),
				zap.Int("attempt", restarts+1),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Info("background_task_stopped", zap.String("task", name))
				return
			case <-timer.C:
			}

			backoff *= 2
			if backoff > o.maxBackoff {
				backoff = o.maxBackoff
			}
		}
	}()
	return failed
}

// run calls fn once, converting a panic into an error
func run(ctx context.Context, logger *zap.Logger, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.PanicsRecoveredTotal.WithLabelValues(name).Inc()
			logger.Error("panic_recovered",
				zap.String("task", name),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}
