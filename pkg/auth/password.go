package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLen = 8
	MaxPasswordLen = 72 // bcrypt ignores input beyond 72 bytes
)

// BcryptCost is the work factor for new hashes. Tests lower it to
// bcrypt.MinCost.
var BcryptCost = 12

// ErrEmptyPassword is returned when hashing an empty secret
var ErrEmptyPassword = errors.New("password cannot be empty")

// PasswordValidationError lists every rule a candidate password broke
type PasswordValidationError struct {
	Problems []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "password validation failed"
	}
	return "password " + strings.Join(e.Problems, "; ")
}

var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"12345678":    {},
	"123456789":   {},
	"qwerty123":   {},
	"iloveyou":    {},
	"admin123":    {},
	"welcome1":    {},
	"letmein1":    {},
	"passw0rd":    {},
	"sunshine":    {},
	"football":    {},
	"trustno1":    {},
	"college123":  {},
	"student123":  {},
}

// HashPassword returns a bcrypt hash of password
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// ComparePassword returns nil when password matches hashedPassword
func ComparePassword(hashedPassword, password string) error {
	if hashedPassword == "" {
		return bcrypt.ErrMismatchedHashAndPassword
	}
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// ValidatePassword checks a new password against the strength rules.
// similarTo holds account attributes (username, email) the password must not
// contain.
func ValidatePassword(password string, similarTo ...string) error {
	var problems []string

	if len(password) < MinPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at most %d characters", MaxPasswordLen))
	}

	numeric := password != ""
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
			numeric = false
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			numeric = false
		}
	}

	if numeric {
		problems = append(problems, "must not be entirely numeric")
	} else if !hasLetter || !hasDigit {
		problems = append(problems, "must contain letters and digits")
	}

	lower := strings.ToLower(password)
	if _, ok := commonPasswords[lower]; ok {
		problems = append(problems, "is too common")
	}

	for _, attr := range similarTo {
		attr = strings.ToLower(attr)
		if at := strings.Index(attr, "@"); at > 0 {
			attr = attr[:at]
		}
		if len(attr) >= 4 && strings.Contains(lower, attr) {
			problems = append(problems, "is too similar to the account details")
			break
		}
	}

	if len(problems) > 0 {
		return &PasswordValidationError{Problems: problems}
	}
	return nil
}
