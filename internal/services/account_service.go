package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/collegeerp/internal/models"
	pkgauth "github.com/BradenHooton/collegeerp/pkg/auth"
	pkglogger "github.com/BradenHooton/collegeerp/pkg/logger"
)

// AccountRepository defines the data access the security flows need. Every
// read-modify-write of security fields goes through Update.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	Update(ctx context.Context, id string, fn models.AccountMutation) (*models.Account, error)
	CompactStaleOTPs(ctx context.Context, expiredBefore, now time.Time) (int64, error)
}

// NewAccountInput describes an account to create
type NewAccountInput struct {
	ID          string
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	IsSuperuser bool
	CreatedBy   string
}

// AccountService manages account records outside the login flows
type AccountService struct {
	repo        AccountRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAccountService creates a new AccountService
func NewAccountService(repo AccountRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AccountService {
	return &AccountService{
		repo:        repo,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// NormalizeAccountID maps a user-supplied handle to the stored identifier
func NormalizeAccountID(handle string) string {
	return strings.ToUpper(strings.TrimSpace(handle))
}

// Create hashes the initial password and stores a new active account. No
// password history is recorded for the initial secret.
func (s *AccountService) Create(ctx context.Context, input NewAccountInput) (*models.Account, error) {
	id := NormalizeAccountID(input.ID)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if id == "" || email == "" || input.Username == "" {
		return nil, fmt.Errorf("%w: id, username and email are required", models.ErrBadRequest)
	}

	hash, err := pkgauth.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	createdBy := input.CreatedBy
	if createdBy == "" {
		createdBy = models.SystemActorID
	}

	created, err := s.repo.Create(ctx, &models.Account{
		ID:           id,
		Username:     strings.TrimSpace(input.Username),
		Email:        email,
		PasswordHash: hash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		IsActive:     true,
		IsSuperuser:  input.IsSuperuser,
		UpdatedBy:    createdBy,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Info("account already exists", slog.String("user_id", id))
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create account", slog.String("user_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("account created", slog.String("user_id", id), slog.String("email", pkglogger.SanitizedEmail(email)))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		AuditType: pkglogger.AuditTypeAccount,
		EventType: pkglogger.EventAccountCreated,
		UserID:    id,
		Success:   true,
		Metadata:  map[string]string{"created_by": createdBy},
	})

	return created, nil
}

// EnsureAccount creates the account unless one with the same ID exists.
// It reports whether a new account was created.
func (s *AccountService) EnsureAccount(ctx context.Context, input NewAccountInput) (bool, error) {
	_, err := s.repo.GetByID(ctx, NormalizeAccountID(input.ID))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return false, fmt.Errorf("look up account: %w", err)
	}

	if _, err := s.Create(ctx, input); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
