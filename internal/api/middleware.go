package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/metrics"
	"github.com/shehryarbajwa/rednote-publisher/internal/ratelimit"
)

const maxPeekBytes = 1 << 20

// RateLimitMiddleware creates a middleware that enforces per-user rate limits
func RateLimitMiddleware(limiter *ratelimit.Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username := getUsername(r)

			if username == "" {
				// The handler rejects requests without a username.
				next.ServeHTTP(w, r)
				return
			}

			limit := strconv.Itoa(limiter.PerHour())

			// Check rate limit
			if !limiter.Allow(username) {
				m.IncRateLimited()
				retry := limiter.RetryAfter(username)
				w.Header().Set("X-RateLimit-Limit", limit)
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds()+0.5)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded: at most "+limit+" publishes per hour per user")
				return
			}

			// Add rate limit headers
			tokens := limiter.Tokens(username)
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(tokens)))

			next.ServeHTTP(w, r)
		})
	}
}

// getUsername extracts the username from the request: query parameter,
// header, or the "username" field of a JSON body. The body is restored for
// the next handler.
func getUsername(r *http.Request) string {
	if username := r.URL.Query().Get("username"); username != "" {
		return username
	}
	if username := r.Header.Get("X-Username"); username != "" {
		return username
	}
	if r.Body == nil {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var peek struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return ""
	}
	return peek.Username
}

// statusRecorder captures the response status. It supports hijacking so the
// websocket upgrade works through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestMiddleware records request metrics and logs each request.
func requestMiddleware(m *metrics.Metrics, logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			elapsed := time.Since(start)
			m.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), elapsed)

			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", rec.status),
				zap.Duration("duration", elapsed),
			)
		})
	}
}
