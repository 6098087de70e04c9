// Package cookiejar persists one authenticated cookie set per username.
//
// Each username owns a single JSON file holding an array of cookie records.
// Saves replace the whole set; nothing is ever merged with what was on disk.
package cookiejar

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/moby/sys/atomicwriter"
	"go.uber.org/zap"
)

// Cookie is one persisted browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Key identifies a cookie within a set.
func (c Cookie) Key() string {
	return c.Name + "\x00" + c.Domain + "\x00" + c.Path
}

// Store hands out jars rooted at one directory.
type Store struct {
	dir    string
	logger *zap.Logger

	mu   sync.Mutex
	jars map[string]*Jar
}

// NewStore creates the storage directory if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cookie directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.Named("cookiejar"),
		jars:   make(map[string]*Jar),
	}, nil
}

// For returns the jar for username. The same *Jar is returned for repeated
// calls so writes for one user are serialized.
func (s *Store) For(username string) *Jar {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jar, ok := s.jars[username]; ok {
		return jar
	}
	jar := &Jar{
		path:   filepath.Join(s.dir, fileName(username)),
		logger: s.logger.With(zap.String("username", username)),
	}
	s.jars[username] = jar
	return jar
}

// Jar is the persisted cookie set of a single user.
type Jar struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewJar opens a jar backed by an explicit file path.
func NewJar(path string, logger *zap.Logger) *Jar {
	return &Jar{path: path, logger: logger.Named("cookiejar")}
}

// Path returns the backing file.
func (j *Jar) Path() string {
	return j.path
}

// Load returns the persisted set. A missing or unreadable file yields an
// empty set.
func (j *Jar) Load() []Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		j.logger.Info("no persisted cookies", zap.String("path", j.path))
		return []Cookie{}
	}
	if err != nil {
		j.logger.Warn("failed to read cookie file", zap.String("path", j.path), zap.Error(err))
		return []Cookie{}
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		j.logger.Warn("corrupt cookie file ignored", zap.String("path", j.path), zap.Error(err))
		return []Cookie{}
	}
	if cookies == nil {
		cookies = []Cookie{}
	}

	j.logger.Debug("loaded cookies", zap.Int("count", len(cookies)))
	return cookies
}

// Save atomically replaces the persisted set with cookies.
func (j *Jar) Save(cookies []Cookie) error {
	valid := normalize(cookies, j.logger)

	data, err := json.MarshalIndent(valid, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cookie directory: %w", err)
	}
	if err := atomicwriter.WriteFile(j.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookies: %w", err)
	}

	j.logger.Info("saved cookies", zap.Int("count", len(valid)), zap.String("path", j.path))
	return nil
}

// Clear removes the persisted set. Clearing an absent jar is not an error.
func (j *Jar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	j.logger.Info("cleared cookies", zap.String("path", j.path))
	return nil
}

// Exists reports whether a non-empty cookie file is present.
func (j *Jar) Exists() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	info, err := os.Stat(j.path)
	return err == nil && info.Size() > 0
}

// normalize drops records without a name, value or domain and keeps the
// last record for each (name, domain, path) key, preserving first-seen order.
func normalize(cookies []Cookie, logger *zap.Logger) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	index := make(map[string]int, len(cookies))

	for _, c := range cookies {
		if c.Name == "" || c.Value == "" || c.Domain == "" {
			logger.Debug("skipping invalid cookie", zap.String("name", c.Name), zap.String("domain", c.Domain))
			continue
		}
		if c.Path == "" {
			c.Path = "/"
		}
		if i, ok := index[c.Key()]; ok {
			out[i] = c
			continue
		}
		index[c.Key()] = len(out)
		out = append(out, c)
	}
	return out
}

// fileName maps a username to a file name one-to-one. Hex keeps the name
// safe on case-insensitive filesystems; names too long for a path element
// are hashed under a prefix hex output can never produce.
func fileName(username string) string {
	encoded := hex.EncodeToString([]byte(username))
	if len(encoded) > maxEncodedName {
		sum := sha256.Sum256([]byte(username))
		encoded = "sha256_" + hex.EncodeToString(sum[:])
	}
	return "cookies_" + encoded + ".json"
}

const maxEncodedName = 200
