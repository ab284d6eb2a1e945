package migration

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/juju/clock"
	"github.com/juju/retry"
)

// UnlimitedAttempts polls until the remote reports a terminal status.
const UnlimitedAttempts = -1

// ErrTimedOut is returned when polling runs out of attempts before the
// remote job reaches a terminal status.
var ErrTimedOut = errors.New("polling attempts exhausted")

var errPending = errors.New("job not finished")

// PollConfig bounds status polling with exponential backoff.
type PollConfig struct {
	Delay    time.Duration
	MaxDelay time.Duration
	Factor   float64
	Attempts int
	Clock    clock.Clock
}

// DefaultPollConfig returns the polling defaults.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Delay:    time.Second,
		MaxDelay: 30 * time.Second,
		Factor:   1.5,
		Attempts: 200,
	}
}

func (p PollConfig) clock() clock.Clock {
	if p.Clock == nil {
		return clock.WallClock
	}
	return p.Clock
}

// poll calls check until it reports done, returns an error, the attempts
// run out (ErrTimedOut) or ctx is cancelled (ctx.Err()).
func (p PollConfig) poll(ctx context.Context, check func() (bool, error), notify func(attempt int)) error {
	delay := p.Delay
	if delay <= 0 {
		delay = time.Second
	}
	attempts := p.Attempts
	if attempts == 0 {
		attempts = UnlimitedAttempts
	}
	// retry.Call traces the fatal error; keep the one check returned.
	var checkErr error
	args := retry.CallArgs{
		Func: func() error {
			done, err := check()
			if err != nil {
				checkErr = err
				return err
			}
			if !done {
				return errPending
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errPending)
		},
		NotifyFunc: func(_ error, attempt int) {
			if notify != nil {
				notify(attempt)
			}
		},
		Attempts: attempts,
		Delay:    delay,
		MaxDelay: p.MaxDelay,
		Clock:    p.clock(),
		Stop:     ctx.Done(),
	}
	if p.Factor > 1 {
		maxDelay := p.MaxDelay
		if maxDelay <= 0 {
			maxDelay = delay
		}
		backoff := retry.ExpBackoff(delay, maxDelay, p.Factor, false)
		// the first wait is Delay itself, then Delay*Factor^n
		args.BackoffFunc = func(d time.Duration, attempt int) time.Duration {
			return backoff(d, attempt-1)
		}
	}

	err := retry.Call(args)
	switch {
	case err == nil:
		return nil
	case retry.IsRetryStopped(err):
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	case retry.IsAttemptsExceeded(err):
		return ErrTimedOut
	case checkErr != nil:
		return checkErr
	}
	return err
}

// sleep blocks for d on clk or until ctx is cancelled.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}
