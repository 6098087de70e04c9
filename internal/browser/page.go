package browser

import (
	"context"
	"time"

	"github.com/shehryarbajwa/rednote-publisher/internal/cookiejar"
)

// Page is the set of page interactions the login and publish flows need.
// Waiting methods take an explicit timeout; a zero timeout checks once.
type Page interface {
	Goto(ctx context.Context, url string) error
	URL() string
	// WaitForLoad blocks until the DOM of the current document is ready.
	WaitForLoad(ctx context.Context, timeout time.Duration) error

	// IsVisible and IsAttached report false, not an error, when the element
	// does not reach the state within timeout.
	IsVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	IsAttached(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	IsEnabled(ctx context.Context, selector string) (bool, error)
	Count(ctx context.Context, selector string) (int, error)
	// Text returns the text of the first match, or "" if nothing matches.
	Text(ctx context.Context, selector string) (string, error)

	Click(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	SetInputFiles(ctx context.Context, selector string, files []string, timeout time.Duration) error
	// Type sends keystrokes to the focused element, pausing delay between keys.
	Type(ctx context.Context, text string, delay time.Duration) error
	Press(ctx context.Context, key string) error

	IsClosed() bool
	Close() error
}

// Instance is one running browser with a single context and page.
type Instance interface {
	Page() Page
	Cookies(ctx context.Context) ([]cookiejar.Cookie, error)
	AddCookies(ctx context.Context, cookies []cookiejar.Cookie) error
	ClearCookies(ctx context.Context) error
	Connected() bool
	// Close releases page, context and process. It is safe to call twice.
	Close() error
}

// LaunchOptions configure a new Instance.
type LaunchOptions struct {
	// Label names the instance in logs and container metadata.
	Label             string
	Headless          bool
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	Args              []string
}

// DefaultArgs are the Chromium flags every launcher passes.
var DefaultArgs = []string{
	"--no-sandbox",
	"--disable-blink-features=AutomationControlled",
	"--disable-web-security",
	"--disable-features=VizDisplayCompositor",
}

// Launcher starts browser instances.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Instance, error)
	Close() error
}
