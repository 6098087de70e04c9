// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Session   SessionConfig
	Publish   PublishConfig
	Storage   StorageConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// BrowserConfig controls how browser handles are launched.
type BrowserConfig struct {
	Headless       bool          `envconfig:"BROWSER_HEADLESS" default:"true"`
	Backend        string        `envconfig:"BROWSER_BACKEND" default:"local"`
	DockerImage    string        `envconfig:"BROWSER_DOCKER_IMAGE" default:"browserless/chrome:latest"`
	MaxInstances   int64         `envconfig:"BROWSER_MAX_INSTANCES" default:"10"`
	UserAgent      string        `envconfig:"BROWSER_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
	ViewportWidth  int           `envconfig:"BROWSER_VIEWPORT_WIDTH" default:"1920"`
	ViewportHeight int           `envconfig:"BROWSER_VIEWPORT_HEIGHT" default:"1080"`
	NavTimeout     time.Duration `envconfig:"BROWSER_NAV_TIMEOUT" default:"60s"`
	ActionTimeout  time.Duration `envconfig:"BROWSER_ACTION_TIMEOUT" default:"10s"`
	InstallDriver  bool          `envconfig:"BROWSER_INSTALL_DRIVER" default:"true"`
}

// SessionConfig controls the login session registry.
type SessionConfig struct {
	IdleTimeout        time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"10m"`
	SweepInterval      time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"60s"`
	LoginTimeout       time.Duration `envconfig:"SESSION_LOGIN_TIMEOUT" default:"5m"`
	LoginCheckInterval time.Duration `envconfig:"SESSION_LOGIN_CHECK_INTERVAL" default:"500ms"`
}

// PublishConfig controls publish job timing.
type PublishConfig struct {
	UploadTimeout      time.Duration `envconfig:"PUBLISH_UPLOAD_TIMEOUT" default:"2m"`
	VideoUploadTimeout time.Duration `envconfig:"PUBLISH_VIDEO_UPLOAD_TIMEOUT" default:"5m"`
	ResultTimeout      time.Duration `envconfig:"PUBLISH_RESULT_TIMEOUT" default:"60s"`
	PollInterval       time.Duration `envconfig:"PUBLISH_POLL_INTERVAL" default:"2s"`
	SuggestWait        time.Duration `envconfig:"PUBLISH_SUGGEST_WAIT" default:"1s"`
	FetchTimeout       time.Duration `envconfig:"PUBLISH_FETCH_TIMEOUT" default:"60s"`
	MediaDir           string        `envconfig:"PUBLISH_MEDIA_DIR" default:""`
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	CookieDir string `envconfig:"STORAGE_COOKIE_DIR" default:"./storage/cookies"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds per-user publish rate limiting.
type RateLimitConfig struct {
	PublishPerHour int `envconfig:"RATE_LIMIT_PUBLISH_PER_HOUR" default:"20"`
	Burst          int `envconfig:"RATE_LIMIT_BURST" default:"3"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects combinations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Browser.Backend {
	case "local", "docker":
	default:
		return fmt.Errorf("unsupported browser backend %q", c.Browser.Backend)
	}
	if c.Browser.MaxInstances < 1 {
		return fmt.Errorf("BROWSER_MAX_INSTANCES must be at least 1")
	}
	if c.Session.IdleTimeout <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session idle timeout and sweep interval must be positive")
	}
	// A zero browser timeout means "wait forever" to the driver.
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"BROWSER_NAV_TIMEOUT", c.Browser.NavTimeout},
		{"BROWSER_ACTION_TIMEOUT", c.Browser.ActionTimeout},
		{"SESSION_LOGIN_TIMEOUT", c.Session.LoginTimeout},
		{"SESSION_LOGIN_CHECK_INTERVAL", c.Session.LoginCheckInterval},
		{"PUBLISH_UPLOAD_TIMEOUT", c.Publish.UploadTimeout},
		{"PUBLISH_VIDEO_UPLOAD_TIMEOUT", c.Publish.VideoUploadTimeout},
		{"PUBLISH_RESULT_TIMEOUT", c.Publish.ResultTimeout},
		{"PUBLISH_POLL_INTERVAL", c.Publish.PollInterval},
		{"PUBLISH_SUGGEST_WAIT", c.Publish.SuggestWait},
		{"PUBLISH_FETCH_TIMEOUT", c.Publish.FetchTimeout},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Browser: BrowserConfig{
			Headless:       true,
			Backend:        "local",
			DockerImage:    "browserless/chrome:latest",
			MaxInstances:   10,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			NavTimeout:     60 * time.Second,
			ActionTimeout:  10 * time.Second,
			InstallDriver:  true,
		},
		Session: SessionConfig{
			IdleTimeout:        10 * time.Minute,
			SweepInterval:      60 * time.Second,
			LoginTimeout:       5 * time.Minute,
			LoginCheckInterval: 500 * time.Millisecond,
		},
		Publish: PublishConfig{
			UploadTimeout:      2 * time.Minute,
			VideoUploadTimeout: 5 * time.Minute,
			ResultTimeout:      60 * time.Second,
			PollInterval:       2 * time.Second,
			SuggestWait:        time.Second,
			FetchTimeout:       60 * time.Second,
		},
		Storage: StorageConfig{
			CookieDir: "./storage/cookies",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			PublishPerHour: 20,
			Burst:          3,
		},
	}
}
