package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
	"github.com/shehryarbajwa/rednote-publisher/internal/browser/browsertest"
	"github.com/shehryarbajwa/rednote-publisher/internal/cookiejar"
)

var sessionCookie = cookiejar.Cookie{Name: "web_session", Value: "token", Domain: ".example.com", Path: "/"}

func newHandle(t *testing.T) (*browser.Handle, *browsertest.Launcher, *cookiejar.Jar) {
	t.Helper()
	store, err := cookiejar.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	jar := store.For("alice")
	launcher := browsertest.NewLauncher()
	h := browser.NewHandle("alice", launcher, jar, browser.LaunchOptions{Headless: true}, zap.NewNop())
	return h, launcher, jar
}

func TestStartLoadsPersistedCookies(t *testing.T) {
	h, launcher, jar := newHandle(t)
	require.NoError(t, jar.Save([]cookiejar.Cookie{sessionCookie}))

	require.NoError(t, h.Start(context.Background()))

	cookies, err := launcher.Last().Cookies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []cookiejar.Cookie{sessionCookie}, cookies)
	assert.Equal(t, "alice", launcher.LastOptions().Label)
	assert.True(t, h.Valid())
}

func TestStartIsIdempotent(t *testing.T) {
	h, launcher, _ := newHandle(t)

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Start(context.Background()))

	assert.Equal(t, 1, launcher.Launches())
}

func TestEnsureStartedRelaunchesCrashedBrowser(t *testing.T) {
	h, launcher, _ := newHandle(t)
	require.NoError(t, h.Start(context.Background()))

	launcher.Last().Crash()
	assert.False(t, h.Valid())

	require.NoError(t, h.EnsureStarted(context.Background()))
	assert.Equal(t, 2, launcher.Launches())
	assert.True(t, h.Valid())
	assert.True(t, launcher.Instances()[0].Closed())
}

func TestRestartWithoutCookies(t *testing.T) {
	h, launcher, jar := newHandle(t)
	require.NoError(t, jar.Save([]cookiejar.Cookie{sessionCookie}))
	require.NoError(t, h.Start(context.Background()))

	require.NoError(t, h.Restart(context.Background(), false))

	require.Equal(t, 2, launcher.Launches())
	cookies, err := launcher.Last().Cookies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cookies)
	assert.Len(t, jar.Load(), 1)
}

func TestStopSavesCookiesWhenAsked(t *testing.T) {
	h, launcher, jar := newHandle(t)
	require.NoError(t, h.Start(context.Background()))
	launcher.Last().SetCookies([]cookiejar.Cookie{sessionCookie})

	h.Stop(true)

	assert.False(t, h.Valid())
	assert.Equal(t, []cookiejar.Cookie{sessionCookie}, jar.Load())
}

func TestStopWithoutSaveLeavesJarAlone(t *testing.T) {
	h, launcher, jar := newHandle(t)
	require.NoError(t, h.Start(context.Background()))
	launcher.Last().SetCookies([]cookiejar.Cookie{sessionCookie})

	h.Stop(false)

	assert.Empty(t, jar.Load())
	assert.True(t, launcher.Last().Closed())
}

func TestStopClosesEvenWhenSaveFails(t *testing.T) {
	h, launcher, _ := newHandle(t)
	require.NoError(t, h.Start(context.Background()))
	launcher.Last().CookiesErr = errors.New("cdp gone")

	h.Stop(true)

	assert.True(t, launcher.Last().Closed())
	assert.False(t, h.Valid())
}

func TestDoOnStoppedHandleFailsFast(t *testing.T) {
	h, _, _ := newHandle(t)
	called := false

	start := time.Now()
	err := h.Do(context.Background(), func(browser.Page) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, browser.ErrStaleHandle)
	assert.False(t, called)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestDoReportsHandleClosedDuringOperation(t *testing.T) {
	h, _, _ := newHandle(t)
	require.NoError(t, h.Start(context.Background()))

	err := h.Do(context.Background(), func(p browser.Page) error {
		h.Stop(false)
		_, err := p.IsVisible(context.Background(), "#x", time.Second)
		return err
	})

	assert.ErrorIs(t, err, browser.ErrHandleClosed)
	assert.ErrorIs(t, err, browsertest.ErrClosed)
}

func TestDoPassesThroughOrdinaryErrors(t *testing.T) {
	h, _, _ := newHandle(t)
	require.NoError(t, h.Start(context.Background()))
	boom := errors.New("boom")

	err := h.Do(context.Background(), func(browser.Page) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, browser.ErrHandleClosed)
}

func TestTryDoIsBusyWhileDoRuns(t *testing.T) {
	h, _, _ := newHandle(t)
	require.NoError(t, h.Start(context.Background()))

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- h.Do(context.Background(), func(browser.Page) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := h.TryDo(func(browser.Page) error { return nil })
	assert.ErrorIs(t, err, browser.ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.NoError(t, h.TryDo(func(browser.Page) error { return nil }))
}

func TestDoHonoursContextWhileWaiting(t *testing.T) {
	h, _, _ := newHandle(t)
	require.NoError(t, h.Start(context.Background()))

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = h.Do(context.Background(), func(browser.Page) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.Do(ctx, func(browser.Page) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetiredHandleCannotStart(t *testing.T) {
	h, launcher, _ := newHandle(t)
	require.NoError(t, h.Start(context.Background()))

	h.Retire(false)

	assert.True(t, h.Retired())
	assert.False(t, h.Valid())
	assert.ErrorIs(t, h.Start(context.Background()), browser.ErrHandleRetired)
	assert.ErrorIs(t, h.EnsureStarted(context.Background()), browser.ErrHandleRetired)
	assert.Equal(t, 1, launcher.Launches())
}

func TestClearCookiesClearsJarAndBrowser(t *testing.T) {
	h, launcher, jar := newHandle(t)
	require.NoError(t, jar.Save([]cookiejar.Cookie{sessionCookie}))
	require.NoError(t, h.Start(context.Background()))

	require.NoError(t, h.ClearCookies(context.Background()))

	assert.Empty(t, jar.Load())
	cookies, err := launcher.Last().Cookies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cookies)
}

func TestSaveCookies(t *testing.T) {
	h, launcher, jar := newHandle(t)

	_, err := h.SaveCookies()
	assert.ErrorIs(t, err, browser.ErrStaleHandle)

	require.NoError(t, h.Start(context.Background()))
	launcher.Last().SetCookies([]cookiejar.Cookie{sessionCookie})

	n, err := h.SaveCookies()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, jar.Load(), 1)
}
