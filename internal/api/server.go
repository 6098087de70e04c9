package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/metrics"
	"github.com/shehryarbajwa/rednote-publisher/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(cookieHandler *CookieHandler, stream *StreamHandler, rateLimiter *ratelimit.Limiter, m *metrics.Metrics, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Session endpoints
	api.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")

	// Publish endpoints (rate limited per username)
	rateLimited := RateLimitMiddleware(rateLimiter, m)
	api.Handle("/publish", rateLimited(http.HandlerFunc(h.Publish))).Methods("POST")

	// The websocket carries its username in the first message and is
	// limited by the stream handler itself.
	api.HandleFunc("/publish/ws", stream.HandlePublish).Methods("GET")

	// Cookie endpoints
	api.HandleFunc("/cookies/{username}", cookieHandler.GetCookies).Methods("GET")
	api.HandleFunc("/cookies/{username}", cookieHandler.DeleteCookies).Methods("DELETE")

	r.Handle("/metrics", m.Handler()).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")

	r.Use(corsMiddleware)
	r.Use(requestMiddleware(m, logger))

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Username")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
