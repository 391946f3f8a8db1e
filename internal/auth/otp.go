package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/BradenHooton/collegeerp/internal/models"
)

// OTP policy
const (
	OTPDigits        = 6
	OTPValidity      = 3 * time.Minute
	MaxOTPAttempts   = 3
	OTPBlockDuration = 15 * time.Minute
)

var otpUpperBound = big.NewInt(1_000_000)

// GenerateOTPCode returns a uniformly random 6-digit code from crypto/rand
func GenerateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpUpperBound)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPDigits, n.Int64()), nil
}

// IssueOTP returns a fresh OTP state for code. Any previous attempts,
// verification and block are discarded.
func IssueOTP(code string, now time.Time) models.OTPState {
	expiresAt := now.Add(OTPValidity)
	return models.OTPState{
		Code:      code,
		CreatedAt: &now,
		ExpiresAt: &expiresAt,
	}
}

// OTPCheck is the outcome of checking a submitted code
type OTPCheck struct {
	OK      bool
	Err     error
	Message string
}

// CheckOTP evaluates submitted against the stored state at now. When the
// state must change, the new state is returned; otherwise the second result
// is nil.
func CheckOTP(s models.OTPState, submitted string, now time.Time, clearOnSuccess bool) (OTPCheck, *models.OTPState) {
	if s.BlockedUntil != nil && now.Before(*s.BlockedUntil) {
		minutes := int(s.BlockedUntil.Sub(now) / time.Minute)
		return OTPCheck{
			Err:     models.ErrOTPBlocked,
			Message: fmt.Sprintf("OTP verification blocked for %d minutes", minutes),
		}, nil
	}

	if !s.HasCode() {
		return OTPCheck{Err: models.ErrOTPNotFound, Message: "No valid OTP found"}, nil
	}

	if now.After(*s.ExpiresAt) {
		next := s.Cleared()
		return OTPCheck{Err: models.ErrOTPExpired, Message: "OTP has expired"}, &next
	}

	if s.Attempts >= MaxOTPAttempts {
		next := s
		blockedUntil := now.Add(OTPBlockDuration)
		next.BlockedUntil = &blockedUntil
		return OTPCheck{
			Err:     models.ErrOTPBlocked,
			Message: fmt.Sprintf("Too many attempts. Try again after %d minutes", int(OTPBlockDuration/time.Minute)),
		}, &next
	}

	if subtle.ConstantTimeCompare([]byte(submitted), []byte(s.Code)) != 1 {
		next := s
		next.Attempts++
		return OTPCheck{
			Err:     models.ErrOTPMismatch,
			Message: fmt.Sprintf("Invalid OTP. %d attempts remaining", MaxOTPAttempts-next.Attempts),
		}, &next
	}

	next := s
	next.Verified = true
	next.Attempts = 0
	if clearOnSuccess {
		next = next.Cleared()
	}
	return OTPCheck{OK: true, Message: "OTP verified successfully"}, &next
}

// MaskEmail hides the local part of an address beyond its first three
// characters, e.g. "abcdef@example.com" becomes "abc***@example.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "***"
	}

	local, domain := []rune(email[:at]), email[at+1:]
	if len(local) <= 3 {
		return string(local) + "@" + domain
	}
	return string(local[:3]) + strings.Repeat("*", len(local)-3) + "@" + domain
}
