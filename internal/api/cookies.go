package api

import (
	"net/http"
	"os"
	"sort"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
	"github.com/shehryarbajwa/rednote-publisher/internal/cookiejar"
	"github.com/shehryarbajwa/rednote-publisher/pkg/models"
)

// CookieHandler holds dependencies for cookie HTTP handlers
type CookieHandler struct {
	store  *cookiejar.Store
	pool   *browser.Pool
	logger *zap.Logger
}

// NewCookieHandler creates a new cookie HTTP handler
func NewCookieHandler(store *cookiejar.Store, pool *browser.Pool, logger *zap.Logger) *CookieHandler {
	return &CookieHandler{
		store:  store,
		pool:   pool,
		logger: logger.Named("api"),
	}
}

// GetCookies handles GET /v1/cookies/{username}. Cookie values are never
// returned.
func (h *CookieHandler) GetCookies(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	jar := h.store.For(username)

	info := models.CookieJar{Username: username, Exists: jar.Exists()}
	if info.Exists {
		cookies := jar.Load()
		info.Count = len(cookies)

		seen := make(map[string]bool)
		for _, c := range cookies {
			if !seen[c.Domain] {
				seen[c.Domain] = true
				info.Domains = append(info.Domains, c.Domain)
			}
		}
		sort.Strings(info.Domains)

		if st, err := os.Stat(jar.Path()); err == nil {
			mod := st.ModTime().UTC()
			info.UpdatedAt = &mod
		}
	}

	writeJSON(w, http.StatusOK, info)
}

// DeleteCookies handles DELETE /v1/cookies/{username}: the persisted jar and
// the cookies of a running browser are both cleared.
func (h *CookieHandler) DeleteCookies(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	if handle, ok := h.pool.Get(username); ok {
		if err := handle.ClearCookies(r.Context()); err != nil {
			h.logger.Error("Failed to clear cookies", zap.String("username", username), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else if err := h.store.For(username).Clear(); err != nil {
		h.logger.Error("Failed to clear cookie jar", zap.String("username", username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("Cookies cleared", zap.String("username", username))
	w.WriteHeader(http.StatusNoContent)
}
