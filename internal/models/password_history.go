package models

import "time"

// PasswordHistoryLimit is the number of previous password hashes kept per account
const PasswordHistoryLimit = 5

// PasswordHistoryEntry is a previous password hash of an account
type PasswordHistoryEntry struct {
	ID           int64
	AccountID    string
	PasswordHash string
	CreatedAt    time.Time
}
