package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
	"github.com/shehryarbajwa/rednote-publisher/internal/cookiejar"
)

// Instance is a fake browser.Instance holding an in-memory cookie set.
type Instance struct {
	mu        sync.Mutex
	page      *Page
	cookies   []cookiejar.Cookie
	connected bool
	closes    int
	slowClose time.Duration

	// CookiesErr, when set, is returned by Cookies.
	CookiesErr error
}

func NewInstance(page *Page) *Instance {
	return &Instance{page: page, connected: true}
}

func (i *Instance) Page() browser.Page {
	return i.page
}

// FakePage returns the underlying fake for scripting.
func (i *Instance) FakePage() *Page {
	return i.page
}

func (i *Instance) Cookies(ctx context.Context) ([]cookiejar.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.CookiesErr != nil {
		return nil, i.CookiesErr
	}
	return append([]cookiejar.Cookie(nil), i.cookies...), nil
}

func (i *Instance) AddCookies(ctx context.Context, cookies []cookiejar.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, c := range cookies {
		replaced := false
		for n, existing := range i.cookies {
			if existing.Key() == c.Key() {
				i.cookies[n] = c
				replaced = true
				break
			}
		}
		if !replaced {
			i.cookies = append(i.cookies, c)
		}
	}
	return nil
}

// SetCookies replaces the live cookie set, as a completed login would.
func (i *Instance) SetCookies(cookies []cookiejar.Cookie) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cookies = append([]cookiejar.Cookie(nil), cookies...)
}

func (i *Instance) ClearCookies(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cookies = nil
	return nil
}

func (i *Instance) Connected() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.connected
}

// Crash disconnects the browser without closing it.
func (i *Instance) Crash() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.connected = false
}

// SlowClose makes Close take d, as a container teardown would.
func (i *Instance) SlowClose(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.slowClose = d
}

func (i *Instance) Close() error {
	i.mu.Lock()
	i.connected = false
	i.closes++
	delay := i.slowClose
	i.mu.Unlock()

	time.Sleep(delay)
	return i.page.Close()
}

// Closed reports whether Close has been called.
func (i *Instance) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closes > 0
}

var _ browser.Instance = (*Instance)(nil)
