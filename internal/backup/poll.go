package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// PollConfig bounds a wait for a cloud resource. A zero Timeout and zero
// MaxAttempts wait until the context is cancelled.
type PollConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
	Clock       clock.Clock
	OnWait      func(attempt int)

	// Transient reports check errors that count as "not ready yet" rather
	// than ending the wait. Nil treats every check error as fatal.
	Transient func(err error) bool
}

var errNotReady = errors.New("not ready")

// Poll calls check every Interval until it reports ready, returns a
// non-transient error, or the timeout, attempt limit or context ends the
// wait.
func Poll(ctx context.Context, cfg PollConfig, check func(ctx context.Context) (bool, error)) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive (got %s)", cfg.Interval)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = -1
	}

	// retry needs at least one bound; an unbounded wait relies on Stop.
	stop := ctx.Done()
	if stop == nil {
		stop = make(chan struct{})
	}

	var fatal error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			ready, err := check(ctx)
			if err != nil {
				if cfg.Transient != nil && cfg.Transient(err) {
					return errNotReady
				}
				return err
			}
			if !ready {
				return errNotReady
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			if errors.Is(err, errNotReady) {
				return false
			}
			fatal = err
			return true
		},
		NotifyFunc: func(_ error, attempt int) {
			if cfg.OnWait != nil {
				cfg.OnWait(attempt)
			}
		},
		Attempts:    attempts,
		Delay:       cfg.Interval,
		MaxDuration: cfg.Timeout,
		Clock:       clk,
		Stop:        stop,
	})

	switch {
	case err == nil:
		return nil
	case fatal != nil:
		return fatal
	case retry.IsAttemptsExceeded(err):
		return fmt.Errorf("%w after %d attempts", ErrPollTimeout, cfg.MaxAttempts)
	case retry.IsDurationExceeded(err):
		return fmt.Errorf("%w after %s", ErrPollTimeout, cfg.Timeout)
	case retry.IsRetryStopped(err):
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return context.Canceled
	default:
		return err
	}
}
