// Package poll provides the deadline-bounded check-and-retry primitive used
// for every wait on the remote site: login completion, media upload, and
// publish result detection.
package poll

import (
	"context"
	"fmt"
	"time"
)

// Condition reports whether the awaited state has been reached. state is a
// short description of what was observed and ends up in timeout errors.
// A non-nil error aborts the poll.
type Condition func(ctx context.Context) (done bool, state string, err error)

// Options bound a poll.
type Options struct {
	// Name identifies the wait in errors and logs.
	Name     string
	Interval time.Duration
	Timeout  time.Duration
}

// TimeoutError is returned when the deadline passes without a match.
type TimeoutError struct {
	Name      string
	Elapsed   time.Duration
	LastState string
}

func (e *TimeoutError) Error() string {
	if e.LastState == "" {
		return fmt.Sprintf("%s: timed out after %s", e.Name, e.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s: timed out after %s (last state: %s)", e.Name, e.Elapsed.Round(time.Millisecond), e.LastState)
}

// Until evaluates cond until it reports done, returns an error, the context
// ends, or opts.Timeout elapses. A match on the first evaluation returns
// without sleeping.
func Until(ctx context.Context, opts Options, cond Condition) error {
	start := time.Now()
	deadline := start.Add(opts.Timeout)

	var last string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, state, err := cond(ctx)
		if state != "" {
			last = state
		}
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{Name: opts.Name, Elapsed: time.Since(start), LastState: last}
		}

		wait := opts.Interval
		if wait <= 0 || wait > remaining {
			wait = remaining
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
