package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
	"github.com/shehryarbajwa/rednote-publisher/internal/poll"
	"github.com/shehryarbajwa/rednote-publisher/pkg/models"
)

const clickTimeout = 5 * time.Second

// runLogin is the only goroutine that advances e through the login states.
func (r *Registry) runLogin(ctx context.Context, e *entry, fresh bool) {
	defer close(e.done)

	err := r.login(ctx, e, fresh)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		e.logger.Info("login flow cancelled")
	default:
		e.logger.Warn("login failed", zap.Error(err))
		r.transition(e, models.StateFailed, err.Error())
	}
}

func (r *Registry) login(ctx context.Context, e *entry, fresh bool) error {
	h := e.handle
	sel := r.profile.Selectors

	if err := h.Restart(ctx, !fresh); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	if fresh {
		if err := h.ClearCookies(ctx); err != nil {
			e.logger.Warn("failed to clear cookies for fresh login", zap.Error(err))
		}
	}

	var status LoginStatus
	err := h.Do(ctx, func(p browser.Page) error {
		if err := p.Goto(ctx, r.profile.HomeURL); err != nil {
			return err
		}
		if err := p.WaitForLoad(ctx, r.cfg.NavigationTimeout); err != nil {
			return err
		}
		var err error
		status, err = r.detector.Detect(ctx, p)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to open home page: %w", err)
	}
	if status.LoggedIn() {
		return r.completeLogin(e, "already logged in")
	}

	err = h.Do(ctx, func(p browser.Page) error {
		visible, err := p.IsVisible(ctx, sel.LoginButton, 0)
		if err != nil || !visible {
			return err
		}
		return p.Click(ctx, sel.LoginButton, clickTimeout)
	})
	if err != nil {
		return fmt.Errorf("failed to open login dialog: %w", err)
	}

	r.transition(e, models.StateWaiting, "waiting for login to complete")

	err = poll.Until(ctx, poll.Options{
		Name:     "login",
		Interval: r.cfg.LoginCheckInterval,
		Timeout:  r.cfg.LoginTimeout,
	}, func(ctx context.Context) (bool, string, error) {
		var done bool
		var state string
		err := h.Do(ctx, func(p browser.Page) error {
			modal, err := p.IsVisible(ctx, sel.LoginModal, 0)
			if err != nil {
				return err
			}
			if modal {
				state = "login dialog open"
				return nil
			}
			status, err := r.detector.Detect(ctx, p)
			if err != nil {
				return err
			}
			state = status.String()
			done = status.LoggedIn()
			return nil
		})
		return done, state, err
	})

	var timeout *poll.TimeoutError
	if errors.As(err, &timeout) {
		return fmt.Errorf("login not completed within %s", r.cfg.LoginTimeout)
	}
	if err != nil {
		return err
	}
	return r.completeLogin(e, "login successful")
}

// completeLogin persists the cookies and only then publishes logged_in.
func (r *Registry) completeLogin(e *entry, message string) error {
	n, err := e.handle.SaveCookies()
	saved := err == nil
	if err != nil {
		e.logger.Warn("failed to save cookies after login", zap.Error(err))
		message += "; cookies not saved"
	} else {
		e.logger.Info("saved login cookies", zap.Int("count", n))
	}

	e.mu.Lock()
	e.session.CookiesSaved = saved
	e.mu.Unlock()

	r.transition(e, models.StateLoggedIn, message)
	return nil
}

func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Host != "" && ua.Host == ub.Host
}
