package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	BcryptCost = bcrypt.MinCost
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		similarTo  []string
		shouldFail bool
		problem    string
	}{
		{name: "valid", password: "Records2025", shouldFail: false},
		{name: "valid with symbols", password: "tr1ck-Y!pass", shouldFail: false},
		{name: "too short", password: "ab12", shouldFail: true, problem: "must be at least 8 characters"},
		{name: "entirely numeric", password: "8675309123", shouldFail: true, problem: "must not be entirely numeric"},
		{name: "letters only", password: "onlyletters", shouldFail: true, problem: "must contain letters and digits"},
		{name: "common", password: "Password123", shouldFail: true, problem: "is too common"},
		{
			name:       "contains username",
			password:   "jsmith2025x",
			similarTo:  []string{"JSmith", "jsmith@example.edu"},
			shouldFail: true,
			problem:    "is too similar to the account details",
		},
		{
			name:      "short attributes ignored",
			password:  "abc2025xyz",
			similarTo: []string{"abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password, tt.similarTo...)
			if !tt.shouldFail {
				assert.NoError(t, err)
				return
			}

			var verr *PasswordValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Problems, tt.problem)
		})
	}
}

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("Records2025")
	require.NoError(t, err)
	assert.NotEqual(t, "Records2025", hash)

	assert.NoError(t, ComparePassword(hash, "Records2025"))
	assert.ErrorIs(t, ComparePassword(hash, "records2025"), bcrypt.ErrMismatchedHashAndPassword)
}

func TestHashPassword_SaltsEachHash(t *testing.T) {
	first, err := HashPassword("Records2025")
	require.NoError(t, err)
	second, err := HashPassword("Records2025")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPassword("")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestComparePassword_EmptyHash(t *testing.T) {
	assert.Error(t, ComparePassword("", "anything"))
}
