// Package session tracks one login session per user: a background login
// flow drives each session from initializing to logged_in or failed,
// status checks detect expiry lazily, and a periodic sweep removes idle
// sessions together with their browsers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
	"github.com/shehryarbajwa/rednote-publisher/internal/metrics"
	"github.com/shehryarbajwa/rednote-publisher/internal/site"
	"github.com/shehryarbajwa/rednote-publisher/pkg/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRequest  = errors.New("invalid session request")
)

// Config controls session timing.
type Config struct {
	// IdleTimeout removes sessions with no activity for this long. Pending
	// logins are measured from creation.
	IdleTimeout        time.Duration
	SweepInterval      time.Duration
	LoginTimeout       time.Duration
	LoginCheckInterval time.Duration
	NavigationTimeout  time.Duration
	DefaultHeadless    bool
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:        10 * time.Minute,
		SweepInterval:      60 * time.Second,
		LoginTimeout:       5 * time.Minute,
		LoginCheckInterval: 500 * time.Millisecond,
		NavigationTimeout:  60 * time.Second,
		DefaultHeadless:    true,
	}
}

type entry struct {
	mu      sync.Mutex
	session models.Session

	handle *browser.Handle
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

func (e *entry) snapshot() models.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Registry owns every session. It is safe for concurrent use.
type Registry struct {
	pool     *browser.Pool
	detector *Detector
	profile  site.Profile
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	// create serializes CreateSession so one user never ends up with two
	// live sessions. Browser teardown happens outside mu.
	create  sync.Mutex
	mu      sync.Mutex
	entries map[string]*entry
	byUser  map[string]string
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(pool *browser.Pool, detector *Detector, profile site.Profile, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		pool:     pool,
		detector: detector,
		profile:  profile,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.Named("session"),
		now:      time.Now,
		entries:  make(map[string]*entry),
		byUser:   make(map[string]string),
	}
}

// CreateSession schedules a login flow for req.Username and returns the new
// session id without waiting for it. Any existing session for the same user
// is torn down first.
func (r *Registry) CreateSession(ctx context.Context, req models.CreateSessionRequest) (string, error) {
	if req.Username == "" {
		return "", fmt.Errorf("%w: username is required", ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	headless := r.cfg.DefaultHeadless
	if req.Headless != nil {
		headless = *req.Headless
	}

	r.create.Lock()
	defer r.create.Unlock()

	r.mu.Lock()
	old := r.unlinkLocked(r.byUser[req.Username])
	r.mu.Unlock()
	if old != nil {
		r.teardown(old, false, false, "replaced")
	}

	h, err := r.pool.Replace(req.Username, browser.HandleOptions{Headless: &headless})
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	now := r.now()
	runCtx, cancel := context.WithCancel(context.Background())
	e := &entry{
		session: models.Session{
			ID:          id,
			Username:    req.Username,
			State:       models.StateInitializing,
			Headless:    headless,
			Fresh:       req.Fresh,
			CreatedAt:   now,
			LastCheckAt: now,
			Message:     "starting browser",
		},
		handle: h,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: r.logger.With(zap.String("session_id", id), zap.String("username", req.Username)),
	}
	r.mu.Lock()
	r.entries[id] = e
	r.byUser[req.Username] = id
	r.mu.Unlock()

	r.metrics.SessionCreated()
	r.metrics.SessionTransition(string(models.StateInitializing))
	e.logger.Info("session created", zap.Bool("headless", headless), zap.Bool("fresh", req.Fresh))

	go r.runLogin(runCtx, e, req.Fresh)
	return id, nil
}

// GetSession returns a copy of the session.
func (r *Registry) GetSession(id string) (models.Session, error) {
	e, ok := r.get(id)
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return e.snapshot(), nil
}

// ListSessions returns every session ordered by creation time.
func (r *Registry) ListSessions() []models.Session {
	r.mu.Lock()
	sessions := make([]models.Session, 0, len(r.entries))
	for _, e := range r.entries {
		sessions = append(sessions, e.snapshot())
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// StateFor returns the state of the user's current session.
func (r *Registry) StateFor(username string) (models.SessionState, bool) {
	r.mu.Lock()
	id, ok := r.byUser[username]
	e := r.entries[id]
	r.mu.Unlock()

	if !ok || e == nil {
		return "", false
	}
	return e.snapshot().State, true
}

// CheckSession returns the session's status. A logged_in session is probed
// without navigating its page and becomes expired once the page no longer
// shows an authenticated user. A pending login older than the idle window
// becomes expired.
func (r *Registry) CheckSession(ctx context.Context, id string) (models.SessionStatus, error) {
	e, ok := r.get(id)
	if !ok {
		return models.SessionStatus{}, ErrSessionNotFound
	}

	now := r.now()
	s := e.snapshot()

	switch {
	case s.State.Pending() && now.Sub(s.CreatedAt) > r.cfg.IdleTimeout:
		r.transition(e, models.StateExpired, "login not completed in time")
	case s.State == models.StateLoggedIn:
		if reason, expired := r.probe(ctx, e); expired {
			r.transition(e, models.StateExpired, reason)
		}
	}

	e.mu.Lock()
	e.session.LastCheckAt = now
	status := e.session.Status()
	e.mu.Unlock()
	return status, nil
}

// probe checks a logged-in session's page. It never waits for a busy page.
func (r *Registry) probe(ctx context.Context, e *entry) (reason string, expired bool) {
	var status LoginStatus
	var url string
	err := e.handle.TryDo(func(p browser.Page) error {
		url = p.URL()
		if r.profile.IsLoginPage(url) {
			status = StatusNotLoggedIn
			return nil
		}
		if !r.onHomeSite(url) {
			// Other consoles carry no home-page markers; no redirect to a
			// login page means the session still holds.
			status = StatusLoggedIn
			return nil
		}
		var err error
		status, err = r.detector.Detect(ctx, p)
		return err
	})

	switch {
	case errors.Is(err, browser.ErrBusy):
		return "", false
	case errors.Is(err, browser.ErrStaleHandle), errors.Is(err, browser.ErrHandleClosed):
		return "browser is no longer running", true
	case err != nil:
		e.logger.Warn("status probe failed", zap.Error(err))
		return "", false
	case !status.LoggedIn():
		e.logger.Info("session no longer authenticated", zap.String("url", url), zap.Stringer("detected", status))
		return "session is no longer authenticated", true
	}
	return "", false
}

func (r *Registry) onHomeSite(url string) bool {
	return sameHost(url, r.profile.HomeURL)
}

// RemoveSession tears a session down. With logout the user's persisted and
// live cookies are cleared; otherwise a logged-in session's cookies are
// saved before its browser closes.
func (r *Registry) RemoveSession(ctx context.Context, id string, logout bool) error {
	r.mu.Lock()
	e := r.unlinkLocked(id)
	r.mu.Unlock()

	if e == nil {
		return ErrSessionNotFound
	}
	r.teardown(e, !logout, logout, "removed")
	return nil
}

// unlinkLocked forgets the session so no caller can reach it and returns
// it for teardown, or nil if id is unknown.
func (r *Registry) unlinkLocked(id string) *entry {
	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	delete(r.entries, id)
	if username := e.snapshot().Username; r.byUser[username] == id {
		delete(r.byUser, username)
	}
	return e
}

// teardown stops an unlinked session's login flow and releases its
// browser. Cookies are cleared only once the login flow can no longer write
// them. It never fails and must be called without r.mu held.
func (r *Registry) teardown(e *entry, allowSave, logout bool, reason string) {
	e.cancel()
	save := allowSave && e.snapshot().State == models.StateLoggedIn
	r.pool.Release(e.handle, save)

	select {
	case <-e.done:
	case <-time.After(teardownWait):
		e.logger.Warn("login flow did not stop in time")
	}

	if logout {
		ctx, cancel := context.WithTimeout(context.Background(), teardownWait)
		if err := e.handle.ClearCookies(ctx); err != nil {
			e.logger.Warn("failed to clear cookies on logout", zap.Error(err))
		}
		cancel()
	}

	r.metrics.SessionRemoved(reason)
	e.logger.Info("session removed", zap.String("reason", reason), zap.Bool("cookies_saved", save), zap.Bool("logout", logout))
}

const teardownWait = 10 * time.Second

// Sweep removes sessions idle longer than the configured window and
// returns how many were removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	var idle []*entry
	for id, e := range r.entries {
		s := e.snapshot()
		since := s.LastActivity()
		if s.State.Pending() {
			since = s.CreatedAt
		}
		if now.Sub(since) > r.cfg.IdleTimeout {
			idle = append(idle, r.unlinkLocked(id))
		}
	}
	remaining := len(r.entries)
	r.mu.Unlock()

	r.teardownAll(idle, true, "expired")
	if len(idle) > 0 {
		r.logger.Info("swept idle sessions", zap.Int("removed", len(idle)), zap.Int("remaining", remaining))
	}
	return len(idle)
}

func (r *Registry) teardownAll(entries []*entry, allowSave bool, reason string) {
	var wg sync.WaitGroup
	for _, e := range entries {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.teardown(e, allowSave, false, reason)
		}()
	}
	wg.Wait()
}

// Run sweeps on every SweepInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Shutdown removes every session. Logged-in sessions save their cookies
// unless ctx is already done.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	all := make([]*entry, 0, len(r.entries))
	for id := range r.entries {
		all = append(all, r.unlinkLocked(id))
	}
	r.mu.Unlock()

	r.teardownAll(all, ctx.Err() == nil, "shutdown")
	r.logger.Info("session registry shut down")
}

func (r *Registry) get(id string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// transition moves e to state. Transitions out of failed and expired are
// ignored.
func (r *Registry) transition(e *entry, state models.SessionState, message string) bool {
	e.mu.Lock()
	from := e.session.State
	if from == state || from == models.StateFailed || from == models.StateExpired {
		e.mu.Unlock()
		return false
	}
	e.session.State = state
	e.session.Message = message
	e.mu.Unlock()

	r.metrics.SessionTransition(string(state))
	e.logger.Info("session state changed", zap.String("from", string(from)), zap.String("to", string(state)), zap.String("message", message))
	return true
}
