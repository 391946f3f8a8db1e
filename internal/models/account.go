package models

import (
	"context"
	"time"
)

// SystemActorID is recorded in audit columns when a change is made by an
// automated security path rather than an authenticated actor.
const SystemActorID = "SYSTEM"

// Account is the authentication record of a student or employee
type Account struct {
	ID                string // stable identifier, upper-case (e.g. "EMP0042")
	Username          string
	Email             string
	PasswordHash      string
	FirstName         string
	LastName          string
	IsActive          bool
	IsSuperuser       bool
	PasswordChangedAt *time.Time
	LastLoginAt       *time.Time
	LastLoginIP       string
	LastLoginAgent    string
	UpdatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time

	Lockout LockoutState
	OTP     OTPState
}

// LockoutState holds the failed-login counters and lock flags of an account.
// The fields are always persisted together.
type LockoutState struct {
	FailedAttempts int
	LastFailedAt   *time.Time
	LockedUntil    *time.Time
	PermanentLock  bool
	LockReason     string
}

// OTPState holds the one-time password currently issued to an account.
// Code and ExpiresAt are either both set or both empty.
type OTPState struct {
	Code         string
	CreatedAt    *time.Time
	ExpiresAt    *time.Time
	Attempts     int
	Verified     bool
	BlockedUntil *time.Time
}

// HasCode reports whether an OTP is outstanding (expired or not)
func (s OTPState) HasCode() bool {
	return s.Code != "" && s.ExpiresAt != nil
}

// Cleared returns the state with the code and its expiry removed
func (s OTPState) Cleared() OTPState {
	s.Code = ""
	s.ExpiresAt = nil
	return s
}

// LoginInfo is written once an account completes the OTP step of a login.
// Persisting it also zeroes the failed-attempt counter and temporary lock.
type LoginInfo struct {
	At        time.Time
	IP        string
	UserAgent string
}

// SecretChange replaces the password hash of an existing account. Persisting
// it appends the hash to the password history and clears any outstanding OTP.
type SecretChange struct {
	PasswordHash string
	ChangedAt    time.Time
}

// AccountPatch enumerates the field groups a single atomic update may write.
// Nil groups are left untouched.
type AccountPatch struct {
	Lockout   *LockoutState
	OTP       *OTPState
	LoginInfo *LoginInfo
	Secret    *SecretChange
}

// IsEmpty reports whether the patch writes nothing
func (p *AccountPatch) IsEmpty() bool {
	return p == nil || (p.Lockout == nil && p.OTP == nil && p.LoginInfo == nil && p.Secret == nil)
}

// Apply writes the patch onto an in-memory account using the same rules as
// the database update: the permanent lock flag can only be raised.
func (p *AccountPatch) Apply(a *Account) {
	if p == nil {
		return
	}
	if p.Lockout != nil {
		permanent := a.Lockout.PermanentLock || p.Lockout.PermanentLock
		a.Lockout = *p.Lockout
		a.Lockout.PermanentLock = permanent
		if permanent && a.Lockout.LockReason == "" {
			a.Lockout.LockReason = PermanentLockReason
		}
	}
	if p.OTP != nil {
		a.OTP = *p.OTP
		if a.OTP.Code == "" || a.OTP.ExpiresAt == nil {
			a.OTP = a.OTP.Cleared()
		}
	}
	if p.LoginInfo != nil {
		at := p.LoginInfo.At
		a.LastLoginAt = &at
		a.LastLoginIP = p.LoginInfo.IP
		a.LastLoginAgent = p.LoginInfo.UserAgent
		a.Lockout.FailedAttempts = 0
		a.Lockout.LastFailedAt = nil
		a.Lockout.LockedUntil = nil
	}
	if p.Secret != nil {
		changedAt := p.Secret.ChangedAt
		a.PasswordHash = p.Secret.PasswordHash
		a.PasswordChangedAt = &changedAt
		a.OTP = a.OTP.Cleared()
	}
	a.UpdatedBy = SystemActorID
}

// PermanentLockReason is stored with an account locked at the final tier
const PermanentLockReason = "Too many failed login attempts (8+). Administrative unlock required."

// AccountSummary is returned to the client after a completed login
type AccountSummary struct {
	ID          string `json:"user_id"`
	Username    string `json:"username"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	IsSuperuser bool   `json:"is_superuser"`
}

// Summary builds the client-facing view of the account
func (a *Account) Summary() *AccountSummary {
	name := a.FirstName
	if a.LastName != "" {
		name = name + " " + a.LastName
	}
	return &AccountSummary{
		ID:          a.ID,
		Username:    a.Username,
		Name:        name,
		Email:       a.Email,
		IsSuperuser: a.IsSuperuser,
	}
}

// HistoryLoader reads the password history of the account being updated,
// newest first, inside the same transaction.
type HistoryLoader func(ctx context.Context) ([]PasswordHistoryEntry, error)

// AccountMutation inspects a locked account and returns the changes to
// persist. Returning an error aborts the update without writing anything.
type AccountMutation func(ctx context.Context, account *Account, history HistoryLoader) (*AccountPatch, error)
