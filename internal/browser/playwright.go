package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/cookiejar"
)

// Runtime owns the playwright driver process shared by all launchers.
type Runtime struct {
	install bool

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewRuntime creates a lazily started driver. With install set the driver
// and Chromium are downloaded on first use.
func NewRuntime(install bool) *Runtime {
	return &Runtime{install: install}
}

func (r *Runtime) get() (*playwright.Playwright, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pw != nil {
		return r.pw, nil
	}

	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if r.install {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	r.pw = pw
	return pw, nil
}

// Stop shuts the driver down.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pw == nil {
		return nil
	}
	err := r.pw.Stop()
	r.pw = nil
	return err
}

// PlaywrightLauncher starts local Chromium processes.
type PlaywrightLauncher struct {
	runtime *Runtime
	logger  *zap.Logger
}

func NewPlaywrightLauncher(runtime *Runtime, logger *zap.Logger) *PlaywrightLauncher {
	return &PlaywrightLauncher{runtime: runtime, logger: logger.Named("playwright")}
}

func (l *PlaywrightLauncher) Launch(ctx context.Context, opts LaunchOptions) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := l.runtime.get()
	if err != nil {
		return nil, err
	}

	args := opts.Args
	if len(args) == 0 {
		args = DefaultArgs
	}
	headless := opts.Headless
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
		Args:     args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	inst, err := newInstance(b, opts, nil)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("launched chromium", zap.String("label", opts.Label), zap.Bool("headless", headless))
	return inst, nil
}

func (l *PlaywrightLauncher) Close() error {
	return l.runtime.Stop()
}

type instance struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    *playwrightPage
	onClose func() error

	closeOnce sync.Once
	closeErr  error
}

// newInstance opens one context and page on b. onClose runs after the
// browser is closed.
func newInstance(b playwright.Browser, opts LaunchOptions, onClose func() error) (*instance, error) {
	contextOpts := playwright.BrowserNewContextOptions{}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		contextOpts.Viewport = &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		}
	}
	if opts.UserAgent != "" {
		ua := opts.UserAgent
		contextOpts.UserAgent = &ua
	}

	bctx, err := b.NewContext(contextOpts)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = b.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	if opts.NavigationTimeout > 0 {
		page.SetDefaultTimeout(millis(opts.NavigationTimeout))
	}

	return &instance{
		browser: b,
		context: bctx,
		page:    &playwrightPage{page: page},
		onClose: onClose,
	}, nil
}

func (i *instance) Page() Page {
	return i.page
}

func (i *instance) Connected() bool {
	return i.browser.IsConnected()
}

func (i *instance) Cookies(ctx context.Context) ([]cookiejar.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := i.context.Cookies()
	if err != nil {
		return nil, err
	}

	cookies := make([]cookiejar.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := cookiejar.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func (i *instance) AddCookies(ctx context.Context, cookies []cookiejar.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	optional := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		switch c.SameSite {
		case "Strict", "Lax", "None":
			ss := playwright.SameSiteAttribute(c.SameSite)
			oc.SameSite = &ss
		}
		optional = append(optional, oc)
	}
	return i.context.AddCookies(optional)
}

func (i *instance) ClearCookies(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return i.context.ClearCookies()
}

func (i *instance) Close() error {
	i.closeOnce.Do(func() {
		_ = i.page.Close()
		_ = i.context.Close()
		i.closeErr = i.browser.Close()
		if i.onClose != nil {
			if err := i.onClose(); err != nil {
				i.closeErr = errors.Join(i.closeErr, err)
			}
		}
	})
	return i.closeErr
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	waitUntil := playwright.WaitUntilState("domcontentloaded")
	if _, err := p.page.Goto(url, playwright.PageGotoOptions{WaitUntil: &waitUntil}); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
	}
	state := playwright.LoadState("domcontentloaded")
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   &state,
		Timeout: playwright.Float(millis(timeout)),
	})
}

func (p *playwrightPage) waitFor(ctx context.Context, selector, state string, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	loc := p.page.Locator(selector).First()
	if timeout <= 0 {
		if state == "visible" {
			return loc.IsVisible()
		}
		n, err := p.page.Locator(selector).Count()
		return n > 0, err
	}

	s := playwright.WaitForSelectorState(state)
	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   &s,
		Timeout: playwright.Float(millis(timeout)),
	})
	if errors.Is(err, playwright.ErrTimeout) {
		return false, nil
	}
	return err == nil, err
}

func (p *playwrightPage) IsVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return p.waitFor(ctx, selector, "visible", timeout)
}

func (p *playwrightPage) IsAttached(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return p.waitFor(ctx, selector, "attached", timeout)
}

func (p *playwrightPage) IsEnabled(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	loc := p.page.Locator(selector)
	n, err := loc.Count()
	if err != nil || n == 0 {
		return false, err
	}
	return loc.First().IsEnabled()
}

func (p *playwrightPage) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.page.Locator(selector).Count()
}

func (p *playwrightPage) Text(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	loc := p.page.Locator(selector)
	n, err := loc.Count()
	if err != nil || n == 0 {
		return "", err
	}
	return loc.First().InnerText()
}

func (p *playwrightPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(millis(timeout)),
	}); err != nil {
		return fmt.Errorf("click %s failed: %w", selector, err)
	}
	return nil
}

func (p *playwrightPage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(millis(timeout)),
	}); err != nil {
		return fmt.Errorf("fill %s failed: %w", selector, err)
	}
	return nil
}

func (p *playwrightPage) SetInputFiles(ctx context.Context, selector string, files []string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Locator(selector).First().SetInputFiles(files, playwright.LocatorSetInputFilesOptions{
		Timeout: playwright.Float(millis(timeout)),
	}); err != nil {
		return fmt.Errorf("set input files on %s failed: %w", selector, err)
	}
	return nil
}

func (p *playwrightPage) Type(ctx context.Context, text string, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Keyboard().Type(text, playwright.KeyboardTypeOptions{
		Delay: playwright.Float(millis(delay)),
	})
}

func (p *playwrightPage) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Keyboard().Press(key)
}

func (p *playwrightPage) IsClosed() bool {
	return p.page.IsClosed()
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}

// IsNavigationError reports errors raised when the document changed while
// an element query was running.
func IsNavigationError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"Execution context was destroyed",
		"frame was detached",
		"interrupted by another navigation",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
