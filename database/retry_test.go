package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/camden-git/supplierresolver/errors"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(5), "upsert", func() error {
		calls++
		if calls < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustsToStoreUnavailable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(3), "upsert", func() error {
		calls++
		return errors.New("database is locked")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, apperrors.Is(err, apperrors.ErrStoreUnavailable))

	var sue *apperrors.StoreUnavailableError
	require.True(t, apperrors.As(err, &sue))
	assert.Equal(t, 3, sue.Attempts)
	assert.Equal(t, "upsert", sue.Op)
}

func TestWithRetryDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	permanent := fmt.Errorf("bad input")
	err := WithRetry(context.Background(), fastRetry(5), "upsert", func() error {
		calls++
		return permanent
	})

	assert.Same(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 2}
	err := WithRetry(ctx, cfg, "merge", func() error {
		return sqlite3.Error{Code: sqlite3.ErrLocked}
	})

	assert.True(t, apperrors.Is(err, apperrors.ErrStoreUnavailable))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsTransient(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", sqlite3.Error{Code: sqlite3.ErrLocked})))
	assert.False(t, IsTransient(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsTransient(nil))

	assert.True(t, IsUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: aliases.text, aliases.source")))
	assert.False(t, IsUniqueViolation(sqlite3.Error{Code: sqlite3.ErrBusy}))
}
