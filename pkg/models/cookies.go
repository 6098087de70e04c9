package models

import "time"

// CookieJar describes the persisted login cookies of a user
type CookieJar struct {
	Username  string     `json:"username"`
	Exists    bool       `json:"exists"`
	Count     int        `json:"count"`
	Domains   []string   `json:"domains,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}
