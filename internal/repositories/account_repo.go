package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/collegeerp/internal/database"
	"github.com/BradenHooton/collegeerp/internal/models"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `
	id, username, email, password_hash, first_name, last_name, is_active, is_superuser,
	password_changed_at, last_login_at, last_login_ip, last_login_agent, updated_by, created_at, updated_at,
	failed_login_attempts, last_failed_login, account_locked_until, permanent_lock, lock_reason,
	otp_code, otp_created_at, otp_expires_at, otp_attempts, otp_verified, otp_blocked_until`

type AccountRepository struct {
	db  *database.DB
	now func() time.Time
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db, now: time.Now}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var a models.Account
	var otpCode *string

	err := scanner.Scan(
		&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName, &a.IsActive, &a.IsSuperuser,
		&a.PasswordChangedAt, &a.LastLoginAt, &a.LastLoginIP, &a.LastLoginAgent, &a.UpdatedBy, &a.CreatedAt, &a.UpdatedAt,
		&a.Lockout.FailedAttempts, &a.Lockout.LastFailedAt, &a.Lockout.LockedUntil, &a.Lockout.PermanentLock, &a.Lockout.LockReason,
		&otpCode, &a.OTP.CreatedAt, &a.OTP.ExpiresAt, &a.OTP.Attempts, &a.OTP.Verified, &a.OTP.BlockedUntil,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if otpCode != nil {
		a.OTP.Code = *otpCode
	}

	return &a, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccountRow(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return account, nil
}

// Create inserts a new account. Password history is not touched.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	now := r.now()
	changedAt := now
	if account.PasswordChangedAt != nil {
		changedAt = *account.PasswordChangedAt
	}

	query := `
		INSERT INTO accounts (id, username, email, password_hash, first_name, last_name, is_active, is_superuser,
			password_changed_at, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING ` + accountColumns

	created, err := scanAccountRow(r.db.Pool.QueryRow(ctx, query,
		account.ID, account.Username, account.Email, account.PasswordHash, account.FirstName, account.LastName,
		account.IsActive, account.IsSuperuser, changedAt, account.UpdatedBy, now,
	))
	if err != nil {
		return nil, fmt.Errorf("create account %s: %w", account.ID, err)
	}
	return created, nil
}

// Update locks the account row, hands it to fn and persists the returned
// patch in the same transaction. Concurrent updates of one account are
// serialized; the returned account reflects the committed state.
func (r *AccountRepository) Update(ctx context.Context, id string, fn models.AccountMutation) (*models.Account, error) {
	var updated *models.Account

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

		account, err := scanAccountRow(tx.QueryRow(ctx, query, id))
		if err != nil {
			return err
		}

		history := func(ctx context.Context) ([]models.PasswordHistoryEntry, error) {
			return listHistory(ctx, tx, account.ID, models.PasswordHistoryLimit)
		}

		patch, err := fn(ctx, account, history)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			updated = account
			return nil
		}

		now := r.now()
		if err := writePatch(ctx, tx, account.ID, patch, now); err != nil {
			return err
		}
		if patch.Secret != nil {
			if err := recordHistory(ctx, tx, account.ID, patch.Secret.PasswordHash, now); err != nil {
				return err
			}
		}

		patch.Apply(account)
		account.UpdatedAt = now
		updated = account
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update account %s: %w", id, err)
	}

	return updated, nil
}

// CompactStaleOTPs removes OTP codes that expired before expiredBefore and
// clears OTP blocks that have elapsed at now. Returns the rows changed.
func (r *AccountRepository) CompactStaleOTPs(ctx context.Context, expiredBefore, now time.Time) (int64, error) {
	var total int64

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		codes, err := tx.Exec(ctx, `
			UPDATE accounts
			SET otp_code = NULL, otp_expires_at = NULL, otp_created_at = NULL,
				otp_attempts = 0, otp_verified = FALSE, updated_by = $3, updated_at = $2
			WHERE otp_expires_at < $1
				AND (otp_blocked_until IS NULL OR otp_blocked_until <= $2)
		`, expiredBefore, now, models.SystemActorID)
		if err != nil {
			return database.MapPostgresError(err)
		}

		blocks, err := tx.Exec(ctx, `
			UPDATE accounts
			SET otp_blocked_until = NULL, updated_by = $2, updated_at = $1
			WHERE otp_blocked_until <= $1 AND otp_code IS NULL
		`, now, models.SystemActorID)
		if err != nil {
			return database.MapPostgresError(err)
		}

		total = codes.RowsAffected() + blocks.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("compact stale otps: %w", err)
	}

	return total, nil
}

// ListPasswordHistory returns up to limit previous hashes, newest first
func (r *AccountRepository) ListPasswordHistory(ctx context.Context, accountID string, limit int) ([]models.PasswordHistoryEntry, error) {
	return listHistory(ctx, r.db.Pool, accountID, limit)
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listHistory(ctx context.Context, q querier, accountID string, limit int) ([]models.PasswordHistoryEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, account_id, password_hash, created_at
		FROM password_history
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query password history: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	entries := make([]models.PasswordHistoryEntry, 0, limit)
	for rows.Next() {
		var e models.PasswordHistoryEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.PasswordHash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan password history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

// recordHistory appends hash and trims the account's history to the limit
func recordHistory(ctx context.Context, tx pgx.Tx, accountID, hash string, now time.Time) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO password_history (account_id, password_hash, created_at)
		VALUES ($1, $2, $3)
	`, accountID, hash, now); err != nil {
		return fmt.Errorf("insert password history: %w", database.MapPostgresError(err))
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM password_history
		WHERE account_id = $1
			AND id NOT IN (
				SELECT id FROM password_history
				WHERE account_id = $1
				ORDER BY created_at DESC, id DESC
				LIMIT $2
			)
	`, accountID, models.PasswordHistoryLimit); err != nil {
		return fmt.Errorf("trim password history: %w", database.MapPostgresError(err))
	}

	return nil
}

// setList collects column assignments. A later assignment to the same column
// replaces the earlier one, so overlapping patch groups cannot produce a
// duplicate SET target.
type setList struct {
	cols  []string
	exprs map[string]assignment
}

type assignment struct {
	expr  string // SQL with "?" standing for the bound value, if any
	value interface{}
	bound bool
}

func newSetList() *setList {
	return &setList{exprs: make(map[string]assignment)}
}

func (s *setList) put(col string, a assignment) {
	if _, ok := s.exprs[col]; !ok {
		s.cols = append(s.cols, col)
	}
	s.exprs[col] = a
}

func (s *setList) value(col string, v interface{}) {
	s.put(col, assignment{expr: "?", value: v, bound: true})
}

func (s *setList) raw(col, expr string) {
	s.put(col, assignment{expr: expr})
}

func (s *setList) expr(col, expr string, v interface{}) {
	s.put(col, assignment{expr: expr, value: v, bound: true})
}

// build renders "col = expr, ..." with positional parameters starting at
// first and returns the bound values in order
func (s *setList) build(first int) (string, []interface{}) {
	parts := make([]string, 0, len(s.cols))
	args := make([]interface{}, 0, len(s.cols))
	n := first
	for _, col := range s.cols {
		a := s.exprs[col]
		expr := a.expr
		if a.bound {
			expr = strings.ReplaceAll(expr, "?", fmt.Sprintf("$%d", n))
			args = append(args, a.value)
			n++
		}
		parts = append(parts, col+" = "+expr)
	}
	return strings.Join(parts, ", "), args
}

func writePatch(ctx context.Context, tx pgx.Tx, id string, patch *models.AccountPatch, now time.Time) error {
	set := newSetList()

	if l := patch.Lockout; l != nil {
		set.value("failed_login_attempts", l.FailedAttempts)
		set.value("last_failed_login", l.LastFailedAt)
		set.value("account_locked_until", l.LockedUntil)
		// The permanent flag can only be raised here; clearing it is an
		// administrative action outside this service.
		set.expr("permanent_lock", "permanent_lock OR ?", l.PermanentLock)
		set.expr("lock_reason", "COALESCE(NULLIF(?, ''), CASE WHEN permanent_lock THEN lock_reason ELSE '' END)", l.LockReason)
	}

	if o := patch.OTP; o != nil {
		if o.HasCode() {
			set.value("otp_code", o.Code)
			set.value("otp_expires_at", o.ExpiresAt)
		} else {
			set.raw("otp_code", "NULL")
			set.raw("otp_expires_at", "NULL")
		}
		set.value("otp_created_at", o.CreatedAt)
		set.value("otp_attempts", o.Attempts)
		set.value("otp_verified", o.Verified)
		set.value("otp_blocked_until", o.BlockedUntil)
	}

	if li := patch.LoginInfo; li != nil {
		set.value("last_login_at", li.At)
		set.value("last_login_ip", li.IP)
		set.value("last_login_agent", li.UserAgent)
		set.raw("failed_login_attempts", "0")
		set.raw("last_failed_login", "NULL")
		set.raw("account_locked_until", "NULL")
	}

	if sc := patch.Secret; sc != nil {
		set.value("password_hash", sc.PasswordHash)
		set.value("password_changed_at", sc.ChangedAt)
		set.raw("otp_code", "NULL")
		set.raw("otp_expires_at", "NULL")
	}

	set.value("updated_by", models.SystemActorID)
	set.value("updated_at", now)

	clause, args := set.build(2)
	tag, err := tx.Exec(ctx, "UPDATE accounts SET "+clause+" WHERE id = $1", append([]interface{}{id}, args...)...)
	if err != nil {
		return fmt.Errorf("write account patch: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
