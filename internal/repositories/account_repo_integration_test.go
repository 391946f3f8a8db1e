//go:build integration

package repositories

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/collegeerp/internal/database"
	"github.com/BradenHooton/collegeerp/internal/models"
	"github.com/BradenHooton/collegeerp/migrations"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDatabase starts Postgres in a container and applies the migrations
func setupTestDatabase(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("collegeerp"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.NewConnectionFromURL(ctx, connStr, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	goose.SetLogger(log.New(io.Discard, "", 0))
	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"))

	sqlDB := stdlib.OpenDB(*db.Pool.Config().ConnConfig)
	defer sqlDB.Close()
	require.NoError(t, goose.UpContext(ctx, sqlDB, "."))

	return db
}

func seedAccount(t *testing.T, repo *AccountRepository, id string) *models.Account {
	t.Helper()
	account, err := repo.Create(context.Background(), &models.Account{
		ID:           id,
		Username:     "user-" + id,
		Email:        fmt.Sprintf("%s@example.edu", id),
		PasswordHash: "$2a$04$initialhashinitialhashinitialhashinitialhashinitialha",
		IsActive:     true,
	})
	require.NoError(t, err)
	return account
}

func TestAccountRepository_Integration(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		seedAccount(t, repo, "EMP0001")

		account, err := repo.GetByID(ctx, "EMP0001")
		require.NoError(t, err)
		assert.Equal(t, "user-EMP0001", account.Username)
		assert.NotNil(t, account.PasswordChangedAt)
		assert.False(t, account.OTP.HasCode())

		_, err = repo.GetByID(ctx, "MISSING")
		assert.ErrorIs(t, err, models.ErrNotFound)

		history, err := repo.ListPasswordHistory(ctx, "EMP0001", models.PasswordHistoryLimit)
		require.NoError(t, err)
		assert.Empty(t, history, "account creation must not record history")
	})

	t.Run("permanent lock cannot be cleared", func(t *testing.T) {
		seedAccount(t, repo, "EMP0002")
		now := time.Now().UTC().Truncate(time.Microsecond)

		_, err := repo.Update(ctx, "EMP0002", func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
			return &models.AccountPatch{Lockout: &models.LockoutState{
				FailedAttempts: 8, LastFailedAt: &now, PermanentLock: true, LockReason: models.PermanentLockReason,
			}}, nil
		})
		require.NoError(t, err)

		updated, err := repo.Update(ctx, "EMP0002", func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
			return &models.AccountPatch{Lockout: &models.LockoutState{}}, nil
		})
		require.NoError(t, err)
		assert.True(t, updated.Lockout.PermanentLock)

		stored, err := repo.GetByID(ctx, "EMP0002")
		require.NoError(t, err)
		assert.True(t, stored.Lockout.PermanentLock)
		assert.Equal(t, models.PermanentLockReason, stored.Lockout.LockReason)
		assert.Equal(t, models.SystemActorID, stored.UpdatedBy)
	})

	t.Run("otp code and expiry stay paired", func(t *testing.T) {
		seedAccount(t, repo, "EMP0003")

		_, err := db.Pool.Exec(ctx, `UPDATE accounts SET otp_code = '123456' WHERE id = 'EMP0003'`)
		assert.Error(t, err, "check constraint must reject a code without expiry")

		_, err = repo.Update(ctx, "EMP0003", func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
			return &models.AccountPatch{OTP: &models.OTPState{Code: "123456"}}, nil
		})
		require.NoError(t, err)

		stored, err := repo.GetByID(ctx, "EMP0003")
		require.NoError(t, err)
		assert.False(t, stored.OTP.HasCode())
		assert.Empty(t, stored.OTP.Code)
	})

	t.Run("secret change records and trims history", func(t *testing.T) {
		seedAccount(t, repo, "EMP0004")

		for i := 0; i < 7; i++ {
			hash := fmt.Sprintf("hash-%d", i)
			_, err := repo.Update(ctx, "EMP0004", func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
				return &models.AccountPatch{Secret: &models.SecretChange{PasswordHash: hash, ChangedAt: time.Now()}}, nil
			})
			require.NoError(t, err)
		}

		var loaded []models.PasswordHistoryEntry
		_, err := repo.Update(ctx, "EMP0004", func(ctx context.Context, a *models.Account, history models.HistoryLoader) (*models.AccountPatch, error) {
			var err error
			loaded, err = history(ctx)
			assert.Equal(t, "hash-6", a.PasswordHash)
			return nil, err
		})
		require.NoError(t, err)

		require.Len(t, loaded, models.PasswordHistoryLimit)
		assert.Equal(t, "hash-6", loaded[0].PasswordHash)
		assert.Equal(t, "hash-2", loaded[4].PasswordHash)

		var count int
		require.NoError(t, db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM password_history WHERE account_id = 'EMP0004'`).Scan(&count))
		assert.Equal(t, models.PasswordHistoryLimit, count)
	})

	t.Run("mutation error rolls back", func(t *testing.T) {
		seedAccount(t, repo, "EMP0005")
		boom := errors.New("boom")

		_, err := repo.Update(ctx, "EMP0005", func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
			return &models.AccountPatch{Lockout: &models.LockoutState{FailedAttempts: 3}}, boom
		})
		assert.ErrorIs(t, err, boom)

		stored, err := repo.GetByID(ctx, "EMP0005")
		require.NoError(t, err)
		assert.Zero(t, stored.Lockout.FailedAttempts)
	})

	t.Run("concurrent failures are not lost", func(t *testing.T) {
		seedAccount(t, repo, "EMP0006")

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Update(ctx, "EMP0006", func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
					next := a.Lockout
					next.FailedAttempts++
					return &models.AccountPatch{Lockout: &next}, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		stored, err := repo.GetByID(ctx, "EMP0006")
		require.NoError(t, err)
		assert.Equal(t, 10, stored.Lockout.FailedAttempts)
	})

	t.Run("compact stale otps", func(t *testing.T) {
		seedAccount(t, repo, "EMP0007")
		seedAccount(t, repo, "EMP0008")
		now := time.Now()
		old := now.Add(-48 * time.Hour)
		oldExpiry := old.Add(3 * time.Minute)
		fresh := now.Add(3 * time.Minute)

		for id, state := range map[string]models.OTPState{
			"EMP0007": {Code: "111111", CreatedAt: &old, ExpiresAt: &oldExpiry, Attempts: 2},
			"EMP0008": {Code: "222222", CreatedAt: &now, ExpiresAt: &fresh},
		} {
			state := state
			_, err := repo.Update(ctx, id, func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
				return &models.AccountPatch{OTP: &state}, nil
			})
			require.NoError(t, err)
		}

		n, err := repo.CompactStaleOTPs(ctx, now.Add(-24*time.Hour), now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		stale, err := repo.GetByID(ctx, "EMP0007")
		require.NoError(t, err)
		assert.False(t, stale.OTP.HasCode())
		assert.Zero(t, stale.OTP.Attempts)

		live, err := repo.GetByID(ctx, "EMP0008")
		require.NoError(t, err)
		assert.Equal(t, "222222", live.OTP.Code)
	})
}
