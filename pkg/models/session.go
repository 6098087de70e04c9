package models

import "time"

// SessionState is the login state of a session
type SessionState string

const (
	StateInitializing SessionState = "initializing"
	StateWaiting      SessionState = "waiting"
	StateLoggedIn     SessionState = "logged_in"
	StateFailed       SessionState = "failed"
	StateExpired      SessionState = "expired"
)

// Pending reports whether the login flow is still running
func (s SessionState) Pending() bool {
	return s == StateInitializing || s == StateWaiting
}

// Session represents one login attempt for one user
type Session struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	State        SessionState `json:"status"`
	Headless     bool         `json:"headless"`
	Fresh        bool         `json:"fresh"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastCheckAt  time.Time    `json:"lastCheckAt"`
	Message      string       `json:"message,omitempty"`
	CookiesSaved bool         `json:"cookiesSaved"`
}

// LastActivity is the later of creation and the most recent status check
func (s Session) LastActivity() time.Time {
	if s.LastCheckAt.After(s.CreatedAt) {
		return s.LastCheckAt
	}
	return s.CreatedAt
}

// Status returns the polled view of the session
func (s Session) Status() SessionStatus {
	return SessionStatus{
		ID:           s.ID,
		Username:     s.Username,
		Status:       s.State,
		Message:      s.Message,
		CookiesSaved: s.CookiesSaved,
	}
}

// SessionStatus is returned by status checks
type SessionStatus struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	Status       SessionState `json:"status"`
	Message      string       `json:"message,omitempty"`
	CookiesSaved bool         `json:"cookiesSaved"`
}

// CreateSessionRequest is the payload for creating a new session
type CreateSessionRequest struct {
	Username string `json:"username"`
	Headless *bool  `json:"headless,omitempty"`
	Fresh    bool   `json:"fresh,omitempty"`
}

// CreateSessionResponse is returned as soon as the login flow is scheduled
type CreateSessionResponse struct {
	ID     string       `json:"id"`
	Status SessionState `json:"status"`
}
