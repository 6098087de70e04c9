package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "local", cfg.Browser.Backend)
	assert.Equal(t, int64(10), cfg.Browser.MaxInstances)
	assert.Equal(t, 10*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, 60*time.Second, cfg.Session.SweepInterval)
	assert.Equal(t, 2*time.Second, cfg.Publish.PollInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("BROWSER_BACKEND", "docker")
	t.Setenv("SESSION_IDLE_TIMEOUT", "90s")
	t.Setenv("PUBLISH_SUGGEST_WAIT", "250ms")
	t.Setenv("STORAGE_COOKIE_DIR", "/var/lib/cookies")
	t.Setenv("LOG_DEV", "true")
	t.Setenv("RATE_LIMIT_BURST", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "docker", cfg.Browser.Backend)
	assert.Equal(t, 90*time.Second, cfg.Session.IdleTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Publish.SuggestWait)
	assert.Equal(t, "/var/lib/cookies", cfg.Storage.CookieDir)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 7, cfg.RateLimit.Burst)

	// untouched values keep their defaults
	assert.Equal(t, 5*time.Minute, cfg.Session.LoginTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown backend", "BROWSER_BACKEND", "firefox-grid"},
		{"zero instances", "BROWSER_MAX_INSTANCES", "0"},
		{"bad duration", "SESSION_IDLE_TIMEOUT", "soon"},
		{"zero navigation timeout", "BROWSER_NAV_TIMEOUT", "0s"},
		{"zero action timeout", "BROWSER_ACTION_TIMEOUT", "0"},
		{"negative upload timeout", "PUBLISH_UPLOAD_TIMEOUT", "-1s"},
		{"zero result timeout", "PUBLISH_RESULT_TIMEOUT", "0s"},
		{"zero suggest wait", "PUBLISH_SUGGEST_WAIT", "0s"},
		{"zero fetch timeout", "PUBLISH_FETCH_TIMEOUT", "0s"},
		{"zero login timeout", "SESSION_LOGIN_TIMEOUT", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
			assert.Equal(t, Default(), LoadOrDefault())
		})
	}
}
