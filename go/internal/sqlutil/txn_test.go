package sqlutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"wrapped deadlock", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

type failingBeginner struct {
	calls int
	err   error
}

func (f *failingBeginner) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	f.calls++
	return nil, f.err
}

func TestRunSerializableRetriesOnlyRetryable(t *testing.T) {
	db := &failingBeginner{err: &pgconn.PgError{Code: "40001"}}
	err := RunSerializable(context.Background(), db, 3, func(pgx.Tx) error { return nil })
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 3, db.calls)

	db = &failingBeginner{err: errors.New("connection refused")}
	err = RunSerializable(context.Background(), db, 3, func(pgx.Tx) error { return nil })
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, db.calls)
}
