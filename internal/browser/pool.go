package browser

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/rednote-publisher/internal/cookiejar"
)

// JarSource hands out the cookie jar of a user.
type JarSource interface {
	For(username string) *cookiejar.Jar
}

// Pool owns every Handle in the process. It keeps at most one handle per
// username and caps the number of handles with a weighted semaphore.
type Pool struct {
	launcher Launcher
	jars     JarSource
	opts     LaunchOptions
	logger   *zap.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	slots   *semaphore.Weighted
	limit   int64
}

// NewPool creates a pool allowing at most maxInstances live handles.
func NewPool(launcher Launcher, jars JarSource, opts LaunchOptions, maxInstances int64, logger *zap.Logger) *Pool {
	if maxInstances < 1 {
		maxInstances = 1
	}
	return &Pool{
		launcher: launcher,
		jars:     jars,
		opts:     opts,
		logger:   logger.Named("browser"),
		handles:  make(map[string]*Handle),
		slots:    semaphore.NewWeighted(maxInstances),
		limit:    maxInstances,
	}
}

// HandleOptions override pool defaults for one new handle.
type HandleOptions struct {
	Headless *bool
}

// Acquire returns the user's handle, creating a stopped one if none exists.
// created reports whether this call made it; the creator is responsible for
// releasing it.
func (p *Pool) Acquire(username string) (h *Handle, created bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.handles[username]; ok && !h.Retired() {
		return h, false, nil
	}
	h, err = p.newHandleLocked(username, HandleOptions{}, nil)
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

// Replace retires any existing handle for username without saving its
// cookies and installs a new stopped one. The old browser is closed after
// the pool lock is released.
func (p *Pool) Replace(username string, override HandleOptions) (*Handle, error) {
	p.mu.Lock()
	old, ok := p.handles[username]
	var slot func()
	if ok {
		delete(p.handles, username)
		// The new handle inherits the old one's slot.
		slot = old.takeSlot()
	}
	h, err := p.newHandleLocked(username, override, slot)
	p.mu.Unlock()

	if ok {
		old.Retire(false)
		p.logger.Info("replaced browser handle", zap.String("username", username))
	}
	return h, err
}

func (p *Pool) newHandleLocked(username string, override HandleOptions, slot func()) (*Handle, error) {
	if slot == nil {
		if !p.slots.TryAcquire(1) {
			return nil, fmt.Errorf("%w (%d)", ErrPoolExhausted, p.limit)
		}
		var once sync.Once
		slot = func() {
			once.Do(func() { p.slots.Release(1) })
		}
	}

	opts := p.opts
	if override.Headless != nil {
		opts.Headless = *override.Headless
	}
	opts.Label = username

	h := NewHandle(username, p.launcher, p.jars.For(username), opts, p.logger)
	h.onRetire = slot
	p.handles[username] = h
	return h, nil
}

// Release retires h, saving its cookies first when save is set, and forgets
// it if it is still the user's current handle.
func (p *Pool) Release(h *Handle, save bool) {
	p.mu.Lock()
	if cur, ok := p.handles[h.Username()]; ok && cur == h {
		delete(p.handles, h.Username())
	}
	p.mu.Unlock()

	h.Retire(save)
}

// Get returns the current handle for username.
func (p *Pool) Get(username string) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[username]
	return h, ok
}

// Len returns the number of live handles.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Close retires every handle without saving and shuts the launcher down.
func (p *Pool) Close() error {
	p.mu.Lock()
	handles := make([]*Handle, 0, len(p.handles))
	for username, h := range p.handles {
		handles = append(handles, h)
		delete(p.handles, username)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.Retire(false)
	}
	return p.launcher.Close()
}
