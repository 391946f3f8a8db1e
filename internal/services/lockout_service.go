package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/collegeerp/internal/auth"
	"github.com/BradenHooton/collegeerp/internal/metrics"
	"github.com/BradenHooton/collegeerp/internal/models"
	pkglogger "github.com/BradenHooton/collegeerp/pkg/logger"
)

// LockoutService persists the progressive lockout policy of internal/auth
type LockoutService struct {
	repo        AccountRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(repo AccountRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, m *metrics.Metrics) *LockoutService {
	return &LockoutService{
		repo:        repo,
		logger:      logger,
		auditLogger: auditLogger,
		metrics:     m,
		now:         time.Now,
	}
}

// RecordFailure counts one failed login and applies the tier it reaches.
// The returned state is the one persisted.
func (s *LockoutService) RecordFailure(ctx context.Context, id string) (models.LockoutState, error) {
	var next models.LockoutState
	var previous models.LockoutState

	_, err := s.repo.Update(ctx, id, func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
		previous = a.Lockout
		next = auth.RegisterFailure(a.Lockout, s.now())
		return &models.AccountPatch{Lockout: &next}, nil
	})
	if err != nil {
		return models.LockoutState{}, fmt.Errorf("record failed attempt: %w", err)
	}

	event := pkglogger.EventLockoutRecorded
	switch tier := lockTier(next.FailedAttempts); {
	case next.PermanentLock && !previous.PermanentLock:
		event = pkglogger.EventPermanentLock
		s.metrics.ObserveLockout(tier)
		s.logger.Warn("account permanently locked", slog.String("user_id", id), slog.Int("failed_attempts", next.FailedAttempts))
	case tier != "" && tier != lockTier(previous.FailedAttempts):
		s.metrics.ObserveLockout(tier)
		s.logger.Info("account lock tier reached", slog.String("user_id", id), slog.String("tier", tier))
	}
	s.auditLogger.LogLockout(ctx, event, id, next.FailedAttempts)

	return next, nil
}

// ResetFailures clears the counter after a successful password check. It
// returns false without writing when the account is permanently locked.
func (s *LockoutService) ResetFailures(ctx context.Context, id string) (bool, error) {
	var cleared bool

	_, err := s.repo.Update(ctx, id, func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
		if a.Lockout.FailedAttempts == 0 && a.Lockout.LastFailedAt == nil && a.Lockout.LockedUntil == nil {
			cleared = !a.Lockout.PermanentLock
			return nil, nil
		}
		next, ok := auth.ClearFailures(a.Lockout)
		cleared = ok
		if !ok {
			return nil, nil
		}
		return &models.AccountPatch{Lockout: &next}, nil
	})
	if err != nil {
		return false, fmt.Errorf("reset failed attempts: %w", err)
	}

	if !cleared {
		s.logger.Warn("refused to reset failures of permanently locked account", slog.String("user_id", id))
	}
	return cleared, nil
}

// CheckLocked evaluates the lock at the current time, persisting the state
// change when a window has elapsed or the permanent flag must be re-asserted.
func (s *LockoutService) CheckLocked(ctx context.Context, id string) (auth.LockStatus, error) {
	var status auth.LockStatus
	var changed *models.LockoutState

	_, err := s.repo.Update(ctx, id, func(ctx context.Context, a *models.Account, _ models.HistoryLoader) (*models.AccountPatch, error) {
		status, changed = auth.EvaluateLock(a.Lockout, s.now())
		if changed == nil {
			return nil, nil
		}
		return &models.AccountPatch{Lockout: changed}, nil
	})
	if err != nil {
		return auth.LockStatus{}, fmt.Errorf("check lock: %w", err)
	}

	if changed != nil {
		if changed.PermanentLock {
			s.auditLogger.LogLockout(ctx, pkglogger.EventPermanentLock, id, changed.FailedAttempts)
		} else {
			s.auditLogger.LogLockout(ctx, pkglogger.EventLockoutCleared, id, 0)
		}
	}

	return status, nil
}

func lockTier(failedAttempts int) string {
	switch {
	case failedAttempts >= auth.PermanentLockThreshold:
		return "permanent"
	case failedAttempts >= auth.LongLockThreshold:
		return "6h"
	case failedAttempts >= auth.ShortLockThreshold:
		return "1h"
	default:
		return ""
	}
}
