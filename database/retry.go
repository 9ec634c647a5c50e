package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/logging"
)

const (
	// DefaultRetryAttempts is how many times a transient failure is attempted in total
	DefaultRetryAttempts = 5
	// DefaultRetryDelay is the first backoff delay
	DefaultRetryDelay = 50 * time.Millisecond
	// MaxRetryDelay caps the exponential backoff
	MaxRetryDelay = 2 * time.Second
)

// RetryConfig bounds the backoff applied to transient store contention.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  DefaultRetryAttempts,
		InitialDelay: DefaultRetryDelay,
		MaxDelay:     MaxRetryDelay,
		Multiplier:   2.0,
	}
}

// IsTransient reports whether err is lock contention worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// IsUniqueViolation reports whether err comes from a UNIQUE or PRIMARY KEY constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// WithRetry runs fn until it succeeds, fails with a non-transient error, the
// attempts run out or ctx is done. Exhausted retries surface as a
// StoreUnavailableError wrapping the last failure.
func WithRetry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logging.FromContext(ctx).Debug().
			Err(lastErr).
			Str("op", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("transient store error, retrying")

		select {
		case <-ctx.Done():
			return &apperrors.StoreUnavailableError{Op: op, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return &apperrors.StoreUnavailableError{Op: op, Attempts: cfg.MaxAttempts, Err: lastErr}
}
