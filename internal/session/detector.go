package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
	"github.com/shehryarbajwa/rednote-publisher/internal/site"
)

// LoginStatus is the outcome of inspecting a page for authentication.
type LoginStatus int

const (
	// StatusUnknown means no signal matched. Callers treat it as signed out.
	StatusUnknown LoginStatus = iota
	StatusNotLoggedIn
	StatusLoggedIn
)

func (s LoginStatus) String() string {
	switch s {
	case StatusLoggedIn:
		return "logged in"
	case StatusNotLoggedIn:
		return "not logged in"
	default:
		return "unknown"
	}
}

// LoggedIn reports whether s is a positive identification.
func (s LoginStatus) LoggedIn() bool {
	return s == StatusLoggedIn
}

// Detector decides whether a page belongs to an authenticated user.
// Signals are checked in a fixed order and the first match wins:
//
//  1. login affordance visible: not logged in
//  2. overlay mask visible: inconclusive, keep checking
//  3. user marker visible: logged in
//  4. user marker attached (possibly occluded): logged in
//  5. nothing matched: unknown
//
// An overlay never hides a marker that is present, so a page with both
// reports logged in.
type Detector struct {
	selectors site.Selectors
	probe     time.Duration
	logger    *zap.Logger
}

// NewDetector creates a detector. probe bounds how long the primary marker
// is waited for.
func NewDetector(profile site.Profile, probe time.Duration, logger *zap.Logger) *Detector {
	return &Detector{
		selectors: profile.Selectors,
		probe:     probe,
		logger:    logger.Named("detector"),
	}
}

// Detect inspects page without navigating it.
func (d *Detector) Detect(ctx context.Context, page browser.Page) (LoginStatus, error) {
	sel := d.selectors

	loginVisible, err := page.IsVisible(ctx, sel.LoginButton, 0)
	if err != nil {
		return StatusUnknown, err
	}
	if loginVisible {
		return StatusNotLoggedIn, nil
	}

	masked, err := page.IsVisible(ctx, sel.OverlayMask, 0)
	if err != nil {
		return StatusUnknown, err
	}
	if masked {
		d.logger.Debug("overlay mask visible, continuing detection")
	}

	markerVisible, err := page.IsVisible(ctx, sel.UserMarker, d.probe)
	if err != nil {
		return StatusUnknown, err
	}
	if markerVisible {
		return StatusLoggedIn, nil
	}

	markerAttached, err := page.IsAttached(ctx, sel.UserMarkerHidden, 0)
	if err != nil {
		return StatusUnknown, err
	}
	if markerAttached {
		return StatusLoggedIn, nil
	}

	return StatusUnknown, nil
}
