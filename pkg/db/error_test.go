package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm translated", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"pg code", &pgconn.PgError{Code: "23505"}, true},
		{"sqlite message", errors.New("UNIQUE constraint failed: invoices.number"), true},
		{"mysql message", errors.New("Error 1062: Duplicate entry"), true},
		{"other", errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDuplicateKeyErr(tc.err))
		})
	}
}

func TestLockAndSerializationCodes(t *testing.T) {
	assert.True(t, IsLockTimeoutErr(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "55P03"})))
	assert.True(t, IsSerializationErr(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsSerializationErr(errors.New("40001")))
}
