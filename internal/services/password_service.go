package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/collegeerp/internal/auth"
	"github.com/BradenHooton/collegeerp/internal/models"
	pkgauth "github.com/BradenHooton/collegeerp/pkg/auth"
)

// PasswordService enforces password history when the secret of an existing
// account changes
type PasswordService struct {
	repo   AccountRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewPasswordService creates a new PasswordService
func NewPasswordService(repo AccountRepository, logger *slog.Logger) *PasswordService {
	return &PasswordService{repo: repo, logger: logger, now: time.Now}
}

// SetNewSecret replaces the password of an existing account. In one
// transaction it requires a still-verified OTP, rejects any of the last five
// passwords with ErrSecretReuse, stores the new hash, appends it to the
// history and clears the OTP. Nothing is written when a check fails.
func (s *PasswordService) SetNewSecret(ctx context.Context, id, newSecret string) error {
	hash, err := pkgauth.HashPassword(newSecret)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	_, err = s.repo.Update(ctx, id, func(ctx context.Context, a *models.Account, history models.HistoryLoader) (*models.AccountPatch, error) {
		if !a.OTP.HasCode() || !a.OTP.Verified {
			return nil, models.Fail(models.ErrOTPNotFound, "No valid OTP found")
		}

		entries, err := history(ctx)
		if err != nil {
			return nil, fmt.Errorf("load password history: %w", err)
		}
		if !auth.IsReusable(newSecret, entries) {
			return nil, models.Fail(models.ErrSecretReuse,
				fmt.Sprintf("New password cannot be the same as any of your last %d passwords", models.PasswordHistoryLimit))
		}

		return &models.AccountPatch{Secret: &models.SecretChange{PasswordHash: hash, ChangedAt: s.now()}}, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("password changed", slog.String("user_id", id))
	return nil
}
