package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/supplierresolver/database"
	"github.com/camden-git/supplierresolver/models"
)

// LeaseRepository manages named, expiring locks shared by every process using
// the same database.
type LeaseRepository struct {
	DB    *gorm.DB
	Retry database.RetryConfig
}

// NewLeaseRepository creates a new instance of LeaseRepository
func NewLeaseRepository(db *gorm.DB, retry database.RetryConfig) *LeaseRepository {
	return &LeaseRepository{DB: db, Retry: retry}
}

// Acquire takes the lease for holder if it is free, expired or already held by
// holder, extending it by ttl. It reports whether the lease was obtained.
func (r *LeaseRepository) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	acquired := false
	err := database.WithRetry(ctx, r.Retry, "acquire lease", func() error {
		acquired = false
		return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := nowMillis()
			expires := now + ttl.Milliseconds()

			var lease models.ReconcilerLease
			err := tx.Where("name = ?", name).First(&lease).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				lease = models.ReconcilerLease{Name: name, Holder: holder, ExpiresAt: expires}
				if err := tx.Create(&lease).Error; err != nil {
					return fmt.Errorf("failed to create lease %s: %w", name, err)
				}
				acquired = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to load lease %s: %w", name, err)
			}
			if lease.Holder != holder && lease.ExpiresAt > now {
				return nil
			}
			err = tx.Model(&models.ReconcilerLease{}).Where("name = ?", name).
				Updates(map[string]interface{}{"holder": holder, "expires_at": expires}).Error
			if err != nil {
				return fmt.Errorf("failed to take lease %s: %w", name, err)
			}
			acquired = true
			return nil
		})
	})
	if database.IsUniqueViolation(err) {
		// another process created the row first
		return false, nil
	}
	return acquired, err
}

// Release gives the lease up if holder still owns it.
func (r *LeaseRepository) Release(ctx context.Context, name, holder string) error {
	return database.WithRetry(ctx, r.Retry, "release lease", func() error {
		err := r.DB.WithContext(ctx).Where("name = ? AND holder = ?", name, holder).Delete(&models.ReconcilerLease{}).Error
		if err != nil {
			return fmt.Errorf("failed to release lease %s: %w", name, err)
		}
		return nil
	})
}
