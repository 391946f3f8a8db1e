package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/collegeerp/internal/models"
	pkgauth "github.com/BradenHooton/collegeerp/pkg/auth"
)

// FakeAccountRepository is an in-memory AccountRepository with the same
// update semantics as the Postgres one: Update holds a per-account lock for
// the whole read-modify-write, writes only the patched groups, records the
// new hash in the history and trims it to PasswordHistoryLimit.
type FakeAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	history  map[string][]models.PasswordHistoryEntry
	rowLocks map[string]*sync.Mutex
	nextID   int64

	// GetByIDErr and UpdateErr, when set, are returned instead of touching
	// the store
	GetByIDErr error
	UpdateErr  error

	Now func() time.Time
}

// NewFakeAccountRepository creates an empty store seeded with accounts
func NewFakeAccountRepository(accounts ...*models.Account) *FakeAccountRepository {
	r := &FakeAccountRepository{
		accounts: make(map[string]*models.Account),
		history:  make(map[string][]models.PasswordHistoryEntry),
		rowLocks: make(map[string]*sync.Mutex),
		Now:      time.Now,
	}
	for _, a := range accounts {
		r.Seed(a)
	}
	return r
}

// Seed stores a copy of a, replacing any account with the same ID
func (r *FakeAccountRepository) Seed(a *models.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.accounts[a.ID] = &cp
	if _, ok := r.rowLocks[a.ID]; !ok {
		r.rowLocks[a.ID] = &sync.Mutex{}
	}
}

// Account returns a snapshot of the stored account, or nil
func (r *FakeAccountRepository) Account(id string) *models.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// History returns the stored password history of id, newest first
func (r *FakeAccountRepository) History(id string) []models.PasswordHistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PasswordHistoryEntry(nil), r.history[id]...)
}

func (r *FakeAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if r.GetByIDErr != nil {
		return nil, r.GetByIDErr
	}
	if a := r.Account(id); a != nil {
		return a, nil
	}
	return nil, models.ErrNotFound
}

func (r *FakeAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if existing.ID == account.ID || existing.Username == account.Username || existing.Email == account.Email {
			return nil, fmt.Errorf("create account: %w", models.ErrConflict)
		}
	}

	cp := *account
	now := r.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	if cp.PasswordChangedAt == nil {
		cp.PasswordChangedAt = &now
	}
	r.accounts[cp.ID] = &cp
	r.rowLocks[cp.ID] = &sync.Mutex{}

	out := cp
	return &out, nil
}

func (r *FakeAccountRepository) Update(ctx context.Context, id string, fn models.AccountMutation) (*models.Account, error) {
	if r.UpdateErr != nil {
		return nil, r.UpdateErr
	}

	r.mu.Lock()
	row, ok := r.rowLocks[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("update account %s: %w", id, models.ErrNotFound)
	}

	row.Lock()
	defer row.Unlock()

	account := r.Account(id)
	loader := func(ctx context.Context) ([]models.PasswordHistoryEntry, error) {
		return r.History(id), nil
	}

	patch, err := fn(ctx, account, loader)
	if err != nil {
		return nil, fmt.Errorf("update account %s: %w", id, err)
	}
	if patch.IsEmpty() {
		return account, nil
	}

	now := r.Now()
	patch.Apply(account)
	account.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[id] = account
	if patch.Secret != nil {
		r.nextID++
		entries := append([]models.PasswordHistoryEntry{{
			ID:           r.nextID,
			AccountID:    id,
			PasswordHash: patch.Secret.PasswordHash,
			CreatedAt:    now,
		}}, r.history[id]...)
		if len(entries) > models.PasswordHistoryLimit {
			entries = entries[:models.PasswordHistoryLimit]
		}
		r.history[id] = entries
	}

	out := *account
	return &out, nil
}

func (r *FakeAccountRepository) CompactStaleOTPs(ctx context.Context, expiredBefore, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var n int64
	for _, id := range ids {
		a := r.accounts[id]
		blocked := a.OTP.BlockedUntil != nil && a.OTP.BlockedUntil.After(now)
		if a.OTP.ExpiresAt != nil && a.OTP.ExpiresAt.Before(expiredBefore) && !blocked {
			a.OTP = models.OTPState{BlockedUntil: a.OTP.BlockedUntil}
			a.UpdatedBy = models.SystemActorID
			n++
		}
	}
	for _, id := range ids {
		a := r.accounts[id]
		if a.OTP.BlockedUntil != nil && !a.OTP.BlockedUntil.After(now) && a.OTP.Code == "" {
			a.OTP.BlockedUntil = nil
			a.UpdatedBy = models.SystemActorID
			n++
		}
	}
	return n, nil
}

// NewTestAccount returns an active account whose password is secret
func NewTestAccount(id, email, secret string) *models.Account {
	hash, err := pkgauth.HashPassword(secret)
	if err != nil {
		panic(err)
	}
	return &models.Account{
		ID:           strings.ToUpper(id),
		Username:     strings.ToLower(id),
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		IsActive:     true,
	}
}

// MockEmailSender records sent messages. SendFunc, when set, decides the
// result.
type MockEmailSender struct {
	mu       sync.Mutex
	Sent     []EmailMessage
	SendFunc func(ctx context.Context, msg EmailMessage) error
}

func (m *MockEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msg)
	return nil
}

// Last returns the most recently sent message
func (m *MockEmailSender) Last() (EmailMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return EmailMessage{}, false
	}
	return m.Sent[len(m.Sent)-1], true
}

// MockTokenIssuer implements TokenIssuer for testing
type MockTokenIssuer struct {
	IssueTokenPairFunc func(account *models.Account) (*models.TokenPair, error)
	ValidateTokenFunc  func(token string) (*models.TokenClaims, error)
}

func (m *MockTokenIssuer) IssueTokenPair(account *models.Account) (*models.TokenPair, error) {
	if m.IssueTokenPairFunc != nil {
		return m.IssueTokenPairFunc(account)
	}
	return &models.TokenPair{
		AccessToken:  "access-" + account.ID,
		RefreshToken: "refresh-" + account.ID,
	}, nil
}

func (m *MockTokenIssuer) ValidateToken(token string) (*models.TokenClaims, error) {
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(token)
	}
	return nil, models.ErrUnauthorized
}

// MockTokenRevocationStore keeps revoked JTIs in memory
type MockTokenRevocationStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time

	RevokeTokenErr    error
	IsTokenRevokedErr error
}

func (m *MockTokenRevocationStore) RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	if m.RevokeTokenErr != nil {
		return m.RevokeTokenErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revoked == nil {
		m.revoked = make(map[string]time.Time)
	}
	m.revoked[jti] = expiresAt
	return nil
}

func (m *MockTokenRevocationStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if m.IsTokenRevokedErr != nil {
		return false, m.IsTokenRevokedErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

// TestClock is a settable clock shared by the services under test
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewTestClock starts a clock at t
func NewTestClock(t time.Time) *TestClock {
	return &TestClock{now: t}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
