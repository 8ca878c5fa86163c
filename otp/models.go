package otp

import "time"

// Code is a stored one-time code. Only the bcrypt hash is kept.
type Code struct {
	ID        string
	Email     string
	Hash      string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}
