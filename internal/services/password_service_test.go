package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/collegeerp/internal/models"
	pkgauth "github.com/BradenHooton/collegeerp/pkg/auth"
)

// verifiedOTP leaves a verified, uncleared OTP on the account
func verifiedOTP(t *testing.T, env *testEnv, id string) {
	t.Helper()
	ctx := context.Background()
	code, err := env.otp.Generate(ctx, id)
	require.NoError(t, err)
	check, err := env.otp.Verify(ctx, id, code, false)
	require.NoError(t, err)
	require.True(t, check.OK)
}

func TestPasswordService_RequiresVerifiedOTP(t *testing.T) {
	env := newTestEnv(t, seededAccount())

	err := env.passwords.SetNewSecret(context.Background(), "EMP0042", "Fresh-Secret-77")

	assert.ErrorIs(t, err, models.ErrOTPNotFound)
	assert.Empty(t, env.repo.History("EMP0042"))
}

func TestPasswordService_HistoryKeepsFiveMostRecent(t *testing.T) {
	env := newTestEnv(t, seededAccount())
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		verifiedOTP(t, env, "EMP0042")
		require.NoError(t, env.passwords.SetNewSecret(ctx, "EMP0042", fmt.Sprintf("Rotating-Secret-%d", i)))
	}

	history := env.repo.History("EMP0042")
	require.Len(t, history, models.PasswordHistoryLimit)
	for i, entry := range history {
		want := fmt.Sprintf("Rotating-Secret-%d", 7-i)
		assert.NoError(t, pkgauth.ComparePassword(entry.PasswordHash, want), "entry %d", i)
	}

	stored := env.repo.Account("EMP0042")
	assert.NoError(t, pkgauth.ComparePassword(stored.PasswordHash, "Rotating-Secret-7"))
	assert.False(t, stored.OTP.HasCode())
}

func TestPasswordService_RejectsRecentSecrets(t *testing.T) {
	env := newTestEnv(t, seededAccount())
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		verifiedOTP(t, env, "EMP0042")
		require.NoError(t, env.passwords.SetNewSecret(ctx, "EMP0042", fmt.Sprintf("Rotating-Secret-%d", i)))
	}

	verifiedOTP(t, env, "EMP0042")
	before := env.repo.Account("EMP0042")

	err := env.passwords.SetNewSecret(ctx, "EMP0042", "Rotating-Secret-3")
	assert.ErrorIs(t, err, models.ErrSecretReuse)
	assert.Equal(t, "New password cannot be the same as any of your last 5 passwords", models.FailureMessage(err))

	after := env.repo.Account("EMP0042")
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
	assert.Equal(t, before.OTP, after.OTP)

	// trimmed out of the history, so allowed again
	require.NoError(t, env.passwords.SetNewSecret(ctx, "EMP0042", "Rotating-Secret-2"))
}

func TestPasswordService_NewAccountIsExemptFromHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.accounts.Create(ctx, NewAccountInput{
		ID:       "stu0100",
		Username: "stu0100",
		Email:    "Stu0100@College.edu",
		Password: "Initial-Secret-1",
	})
	require.NoError(t, err)
	assert.Empty(t, env.repo.History("STU0100"))

	verifiedOTP(t, env, "STU0100")
	require.NoError(t, env.passwords.SetNewSecret(ctx, "STU0100", "Initial-Secret-1"))
	assert.Len(t, env.repo.History("STU0100"), 1)
}
