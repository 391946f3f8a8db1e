package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/collegeerp/internal/auth"
	"github.com/BradenHooton/collegeerp/internal/models"
	pkglogger "github.com/BradenHooton/collegeerp/pkg/logger"
)

// OTPService issues and checks the emailed one-time passwords
type OTPService struct {
	repo        AccountRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
	generate    func() (string, error)
}

// NewOTPService creates a new OTPService
func NewOTPService(repo AccountRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *OTPService {
	return &OTPService{
		repo:        repo,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
		generate:    auth.GenerateOTPCode,
	}
}

// Generate issues a fresh code, replacing any previous one and clearing an
// active verification block. The code is returned for delivery.
func (s *OTPService) Generate(ctx context.Context, id string) (string, error) {
	return s.issue(ctx, id, false)
}

// Reissue is Generate for resend and password-reset requests: it refuses
// with ErrOTPBlocked while a verification block is active so that the block
// cannot be lifted by asking for a new code.
func (s *OTPService) Reissue(ctx context.Context, id string) (string, error) {
	return s.issue(ctx, id, true)
}

func (s *OTPService) issue(ctx context.Context, id string, respectBlock bool) (string, error) {
	code, err := s.generate()
	if err != nil {
		return "", err
	}

	var blocked *models.AuthFailure
	_, err = s.repo.Update(ctx, id, func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
		now := s.now()
		if respectBlock && a.OTP.BlockedUntil != nil && now.Before(*a.OTP.BlockedUntil) {
			minutes := int(a.OTP.BlockedUntil.Sub(now) / time.Minute)
			blocked = models.Fail(models.ErrOTPBlocked, fmt.Sprintf("OTP verification blocked for %d minutes", minutes))
			return nil, nil
		}
		next := auth.IssueOTP(code, now)
		return &models.AccountPatch{OTP: &next}, nil
	})
	if err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	if blocked != nil {
		return "", blocked
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		AuditType: pkglogger.AuditTypeOTP,
		EventType: pkglogger.EventOTPIssued,
		UserID:    id,
		Success:   true,
	})
	return code, nil
}

// Verify checks submitted against the outstanding code. Policy outcomes are
// reported in the returned check; the error is only set for store faults.
func (s *OTPService) Verify(ctx context.Context, id, submitted string, clearOnSuccess bool) (auth.OTPCheck, error) {
	var check auth.OTPCheck

	_, err := s.repo.Update(ctx, id, func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
		var next *models.OTPState
		check, next = auth.CheckOTP(a.OTP, submitted, s.now(), clearOnSuccess)
		if next == nil {
			return nil, nil
		}
		return &models.AccountPatch{OTP: next}, nil
	})
	if err != nil {
		return auth.OTPCheck{}, fmt.Errorf("verify otp: %w", err)
	}

	if !check.OK {
		event := pkglogger.EventOTPRejected
		if errors.Is(check.Err, models.ErrOTPBlocked) {
			event = pkglogger.EventOTPBlocked
		}
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			AuditType:     pkglogger.AuditTypeOTP,
			EventType:     event,
			UserID:        id,
			FailureReason: check.Err.Error(),
		})
	}

	return check, nil
}

// Invalidate removes the outstanding code, e.g. after a failed delivery
func (s *OTPService) Invalidate(ctx context.Context, id string) error {
	_, err := s.repo.Update(ctx, id, func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
		if !a.OTP.HasCode() {
			return nil, nil
		}
		next := a.OTP.Cleared()
		return &models.AccountPatch{OTP: &next}, nil
	})
	if err != nil {
		return fmt.Errorf("invalidate otp: %w", err)
	}
	return nil
}
