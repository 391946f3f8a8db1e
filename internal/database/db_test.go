package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/BradenHooton/collegeerp/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapPostgresError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{name: "no rows", in: pgx.ErrNoRows, want: models.ErrNotFound},
		{name: "wrapped no rows", in: fmt.Errorf("get account: %w", pgx.ErrNoRows), want: models.ErrNotFound},
		{name: "unique", in: &pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"}, want: models.ErrConflict},
		{name: "check", in: &pgconn.PgError{Code: "23514", ConstraintName: "accounts_otp_pair"}, want: models.ErrBadRequest},
		{name: "foreign key", in: &pgconn.PgError{Code: "23503"}, want: models.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, MapPostgresError(tt.in), tt.want)
		})
	}
}

func TestMapPostgresError_Passthrough(t *testing.T) {
	assert.Nil(t, MapPostgresError(nil))

	other := errors.New("connection reset")
	assert.Same(t, other, MapPostgresError(other))
}
