package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsUniqueViolationPostgres(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ux_escrow_tasks_dedup_key",
	}
	wrapped := fmt.Errorf("insert task: %w", pgErr)

	assert.True(t, IsUniqueViolation(wrapped, "ux_escrow_tasks_dedup_key"))
	assert.True(t, IsUniqueViolation(wrapped, ""))
	assert.False(t, IsUniqueViolation(wrapped, "ux_some_other_index"))

	notNull := &pgconn.PgError{Code: "23502"}
	assert.False(t, IsUniqueViolation(notNull, ""))
}

func TestIsUniqueViolationSQLite(t *testing.T) {
	// sqlite names columns, never the index, so constraintName cannot gate it.
	err := errors.New("UNIQUE constraint failed: escrow_tasks.dedup_key")

	assert.True(t, IsUniqueViolation(err, "ux_escrow_tasks_dedup_key"))
	assert.True(t, IsUniqueViolation(err, ""))
}

func TestIsUniqueViolationGormTranslated(t *testing.T) {
	err := fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)

	assert.True(t, IsUniqueViolation(err, "ux_escrow_tasks_dedup_key"))
}

func TestIsUniqueViolationUnrelated(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil, ""))
	assert.False(t, IsUniqueViolation(errors.New("connection refused"), ""))
	assert.False(t, IsUniqueViolation(gorm.ErrRecordNotFound, ""))
}
