package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/rednote-publisher/internal/cookiejar"
)

const teardownTimeout = 15 * time.Second

// CookieStore is the persistence a Handle loads cookies from and saves
// them to.
type CookieStore interface {
	Load() []cookiejar.Cookie
	Save(cookies []cookiejar.Cookie) error
	Clear() error
}

// Handle owns at most one running browser Instance for one user. Page work
// goes through Do so that a single goroutine drives the page at a time.
type Handle struct {
	username string
	launcher Launcher
	jar      CookieStore
	opts     LaunchOptions
	logger   *zap.Logger

	// mu guards inst and retired. It is never held while page work runs so
	// Stop can close the browser under an in-flight operation.
	mu       sync.Mutex
	inst     Instance
	retired  bool
	onRetire func()

	ops *semaphore.Weighted
}

// NewHandle creates a stopped handle.
func NewHandle(username string, launcher Launcher, jar CookieStore, opts LaunchOptions, logger *zap.Logger) *Handle {
	if opts.Label == "" {
		opts.Label = username
	}
	return &Handle{
		username: username,
		launcher: launcher,
		jar:      jar,
		opts:     opts,
		logger:   logger.With(zap.String("username", username)),
		ops:      semaphore.NewWeighted(1),
	}
}

func (h *Handle) Username() string {
	return h.username
}

// Valid reports whether the browser is connected and its page is open.
func (h *Handle) Valid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.validLocked()
}

func (h *Handle) validLocked() bool {
	if h.inst == nil || !h.inst.Connected() {
		return false
	}
	page := h.inst.Page()
	return page != nil && !page.IsClosed()
}

// Start launches the browser and loads the persisted cookies. It is a no-op
// on a valid handle.
func (h *Handle) Start(ctx context.Context) error {
	return h.start(ctx, true)
}

// EnsureStarted restarts the handle with persisted cookies if it is not
// valid.
func (h *Handle) EnsureStarted(ctx context.Context) error {
	if h.Valid() {
		return nil
	}
	return h.Restart(ctx, true)
}

// Restart stops the browser and starts a new one. loadCookies controls
// whether the new instance receives the persisted cookie set; the current
// cookies are saved first only when they are going to be reloaded.
func (h *Handle) Restart(ctx context.Context, loadCookies bool) error {
	h.Stop(loadCookies)
	return h.start(ctx, loadCookies)
}

func (h *Handle) start(ctx context.Context, loadCookies bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.retired {
		return ErrHandleRetired
	}
	if h.validLocked() {
		return nil
	}
	if h.inst != nil {
		h.closeLocked()
	}

	inst, err := h.launcher.Launch(ctx, h.opts)
	if err != nil {
		return fmt.Errorf("failed to launch browser for %s: %w", h.username, err)
	}

	if loadCookies {
		cookies := h.jar.Load()
		if len(cookies) > 0 {
			if err := inst.AddCookies(ctx, cookies); err != nil {
				h.logger.Warn("failed to load cookies into browser", zap.Error(err))
			} else {
				h.logger.Info("loaded cookies into browser", zap.Int("count", len(cookies)))
			}
		}
	}

	h.inst = inst
	h.logger.Info("browser started", zap.Bool("headless", h.opts.Headless), zap.Bool("cookies", loadCookies))
	return nil
}

// Stop releases the browser. With saveCookies the live cookies are written
// to the jar first; a failed save is logged and the browser is closed
// anyway.
func (h *Handle) Stop(saveCookies bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked(saveCookies)
}

func (h *Handle) stopLocked(saveCookies bool) {
	if h.inst == nil {
		return
	}
	if saveCookies && h.inst.Connected() {
		if _, err := h.saveLocked(); err != nil {
			h.logger.Warn("failed to save cookies during teardown", zap.Error(err))
		}
	}
	h.closeLocked()
}

func (h *Handle) closeLocked() {
	if err := h.inst.Close(); err != nil {
		h.logger.Warn("failed to close browser", zap.Error(err))
	}
	h.inst = nil
	h.logger.Info("browser stopped")
}

// Retire stops the handle for good. Later Start calls fail with
// ErrHandleRetired.
func (h *Handle) Retire(saveCookies bool) {
	h.mu.Lock()
	if h.retired {
		h.mu.Unlock()
		return
	}
	h.stopLocked(saveCookies)
	h.retired = true
	onRetire := h.onRetire
	h.mu.Unlock()

	if onRetire != nil {
		onRetire()
	}
}

// takeSlot detaches the pool slot released on retirement so a replacement
// handle can own it. It returns nil once the handle is retired.
func (h *Handle) takeSlot() func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired {
		return nil
	}
	slot := h.onRetire
	h.onRetire = nil
	return slot
}

// Retired reports whether the pool has released the handle.
func (h *Handle) Retired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retired
}

// Do runs fn against the page, waiting for any other operation to finish
// first. A handle that is not running fails fast with ErrStaleHandle; an
// error caused by the browser closing mid-operation wraps ErrHandleClosed.
func (h *Handle) Do(ctx context.Context, fn func(Page) error) error {
	if err := h.ops.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.ops.Release(1)
	return h.run(fn)
}

// TryDo is Do without waiting: it returns ErrBusy if an operation is in
// flight.
func (h *Handle) TryDo(fn func(Page) error) error {
	if !h.ops.TryAcquire(1) {
		return ErrBusy
	}
	defer h.ops.Release(1)
	return h.run(fn)
}

func (h *Handle) run(fn func(Page) error) error {
	page, ok := h.page()
	if !ok {
		return ErrStaleHandle
	}

	err := fn(page)
	if err != nil && !errors.Is(err, ErrHandleClosed) && !h.Valid() {
		return fmt.Errorf("%w: %w", ErrHandleClosed, err)
	}
	return err
}

func (h *Handle) page() (Page, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.validLocked() {
		return nil, false
	}
	return h.inst.Page(), true
}

// SaveCookies persists the live cookie set and returns how many were
// written.
func (h *Handle) SaveCookies() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inst == nil || !h.inst.Connected() {
		return 0, ErrStaleHandle
	}
	return h.saveLocked()
}

func (h *Handle) saveLocked() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	cookies, err := h.inst.Cookies(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read browser cookies: %w", err)
	}
	if err := h.jar.Save(cookies); err != nil {
		return 0, err
	}
	return len(cookies), nil
}

// ClearCookies removes the persisted cookie set and, if the browser is
// running, its live cookies.
func (h *Handle) ClearCookies(ctx context.Context) error {
	if err := h.jar.Clear(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inst == nil || !h.inst.Connected() {
		return nil
	}
	if err := h.inst.ClearCookies(ctx); err != nil {
		return fmt.Errorf("failed to clear browser cookies: %w", err)
	}
	return nil
}
