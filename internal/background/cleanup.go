package background

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/BradenHooton/collegeerp/internal/metrics"
	pkglogger "github.com/BradenHooton/collegeerp/pkg/logger"
)

// StaleOTPCompactor removes OTP state that can no longer be used
type StaleOTPCompactor interface {
	CompactStaleOTPs(ctx context.Context, expiredBefore, now time.Time) (int64, error)
}

// CleanupManager periodically clears OTP codes that expired more than the
// retention period ago, together with lapsed verification blocks. Lockout
// counters are never touched.
type CleanupManager struct {
	repo        StaleOTPCompactor
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metrics     *metrics.Metrics
	interval    time.Duration
	retention   time.Duration
	now         func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	repo StaleOTPCompactor,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	m *metrics.Metrics,
	interval, retention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		repo:        repo,
		logger:      logger,
		auditLogger: auditLogger,
		metrics:     m,
		interval:    interval,
		retention:   retention,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then on every tick until ctx is done
// or Stop is called
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single compaction pass and returns the number of
// accounts changed
func (cm *CleanupManager) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.now()
	n, err := cm.repo.CompactStaleOTPs(ctx, now.Add(-cm.retention), now)
	if err != nil {
		return 0, err
	}

	cm.metrics.AddStaleOTPsCompacted(n)
	if n > 0 {
		cm.auditLogger.Log(ctx, pkglogger.AuditEvent{
			AuditType: pkglogger.AuditTypeOTP,
			EventType: pkglogger.EventStaleOTPsCompacted,
			Success:   true,
			Metadata:  map[string]string{"accounts": strconv.FormatInt(n, 10)},
		})
	}
	return n, nil
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	n, err := cm.RunOnce(ctx)
	if err != nil {
		cm.logger.Error("failed to compact stale OTPs", slog.Any("error", err))
		return
	}
	if n > 0 {
		cm.logger.Info("stale OTP cleanup completed", slog.Int64("accounts", n))
	}
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
