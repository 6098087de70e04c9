package poll

import (
	"context"
	"fmt"
	"time"
)

// SessionInvalidatedError is returned when a navigation lands on a URL that
// signals the remote session was revoked.
type SessionInvalidatedError struct {
	Name    string
	URL     string
	Elapsed time.Duration
}

func (e *SessionInvalidatedError) Error() string {
	return fmt.Sprintf("%s: session invalidated after %s (redirected to %s)", e.Name, e.Elapsed.Round(time.Millisecond), e.URL)
}

// NavOptions extend Options with navigation tracking.
type NavOptions struct {
	Options

	// URL returns the page's current URL. Required.
	URL func() string

	// AuthFailure reports whether url means the user was signed out.
	AuthFailure func(url string) bool

	// Stabilize waits for the page to settle after a navigation. A failure
	// leaves the navigation pending: it is retried on the next tick and the
	// poll deadline bounds the wait.
	Stabilize func(ctx context.Context) error

	// OnNavigate runs after stabilization, e.g. to restore page state the
	// navigation discarded. An error aborts the poll.
	OnNavigate func(ctx context.Context, from, to string) error

	// IsNavigation classifies condition errors caused by the page navigating
	// mid-evaluation. Such errors are treated as "not yet".
	IsNavigation func(err error) bool
}

// UntilStable is Until with URL tracking on every tick. A URL change is a
// navigation event: the page is stabilized before the condition is checked
// again, and an auth-failure URL aborts at once with
// *SessionInvalidatedError instead of running out the deadline.
func UntilStable(ctx context.Context, opts NavOptions, cond Condition) error {
	start := time.Now()
	invalidated := func(url string) error {
		return &SessionInvalidatedError{Name: opts.Name, URL: url, Elapsed: time.Since(start)}
	}
	isAuthFailure := func(url string) bool {
		return opts.AuthFailure != nil && opts.AuthFailure(url)
	}
	isNavigation := func(err error) bool {
		return opts.IsNavigation != nil && opts.IsNavigation(err)
	}

	prev := opts.URL()
	if isAuthFailure(prev) {
		return invalidated(prev)
	}

	deadline := start.Add(opts.Timeout)
	// from is the URL before the first unsettled navigation.
	var from string
	settling := false

	tracked := func(ctx context.Context) (bool, string, error) {
		if cur := opts.URL(); cur != prev {
			if !settling {
				from = prev
				settling = true
			}
			prev = cur
			if isAuthFailure(cur) {
				return false, "", invalidated(cur)
			}
		}

		if settling {
			if opts.Stabilize != nil {
				sctx, cancel := context.WithDeadline(ctx, deadline)
				err := opts.Stabilize(sctx)
				cancel()
				if err != nil {
					if ctx.Err() != nil {
						return false, "", ctx.Err()
					}
					return false, fmt.Sprintf("waiting for %s to load: %v", prev, err), nil
				}
			}
			// Redirect chains can move the page again while it settles.
			if settled := opts.URL(); settled != prev {
				prev = settled
				if isAuthFailure(settled) {
					return false, "", invalidated(settled)
				}
			}
			settling = false

			if opts.OnNavigate != nil {
				if err := opts.OnNavigate(ctx, from, prev); err != nil {
					return false, "navigated to " + prev, err
				}
			}
		}

		done, state, err := cond(ctx)
		if err != nil && isNavigation(err) {
			return false, "navigation in progress", nil
		}
		return done, state, err
	}

	return Until(ctx, opts.Options, tracked)
}
