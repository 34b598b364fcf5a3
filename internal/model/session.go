package model

import "time"

// Session is a logged-in browser session bound to an opaque cookie token.
// Expiry slides: activity extends it, but at most once per 24 hours.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionMeta carries client metadata captured at session creation.
type SessionMeta struct {
	IPAddress string
	UserAgent string
}
