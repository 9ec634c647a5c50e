package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/camden-git/supplierresolver/database"
	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/logging"
	"github.com/camden-git/supplierresolver/models"
)

// DefaultRecordKind is used when a mention carries a record id without a kind.
const DefaultRecordKind = "po"

// LinkedRecordRepository handles database operations for LinkedRecord entities
type LinkedRecordRepository struct {
	DB    *gorm.DB
	Retry database.RetryConfig
}

// NewLinkedRecordRepository creates a new instance of LinkedRecordRepository
func NewLinkedRecordRepository(db *gorm.DB, retry database.RetryConfig) *LinkedRecordRepository {
	return &LinkedRecordRepository{DB: db, Retry: retry}
}

func findOrInitRecord(tx *gorm.DB, kind, externalID string, record *models.LinkedRecord) (bool, error) {
	err := tx.Where("kind = ? AND external_id = ?", kind, externalID).First(record).Error
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("failed to look up record %s/%s: %w", kind, externalID, err)
	}
	now := nowMillis()
	*record = models.LinkedRecord{Kind: kind, ExternalID: externalID, CreatedAt: now, UpdatedAt: now}
	return false, nil
}

// Attach points the record (kind, externalID) at the live owner of supplierID,
// creating the record if needed. A record already attached to a different live
// supplier is left as it is and returned unchanged.
func (r *LinkedRecordRepository) Attach(ctx context.Context, kind, externalID string, supplierID uint) (*models.LinkedRecord, error) {
	if kind == "" {
		kind = DefaultRecordKind
	}
	var record models.LinkedRecord
	run := func() error {
		return database.WithRetry(ctx, r.Retry, "attach record", func() error {
			return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				live, err := resolveLive(tx, supplierID)
				if err != nil {
					return err
				}
				exists, err := findOrInitRecord(tx, kind, externalID, &record)
				if err != nil {
					return err
				}

				if exists && record.SupplierID != nil {
					owner, err := resolveLive(tx, *record.SupplierID)
					if err != nil {
						return err
					}
					if owner != live {
						logging.FromContext(ctx).Warn().
							Str("kind", kind).
							Str("external_id", externalID).
							Uint("owner", owner).
							Uint("requested", live).
							Msg("linked record already belongs to another supplier, leaving it in place")
						return nil
					}
				}

				record.SupplierID = &live
				record.PendingAliasID = nil
				record.UpdatedAt = nowMillis()
				if err := tx.Save(&record).Error; err != nil {
					return fmt.Errorf("failed to attach record %s/%s to supplier %d: %w", kind, externalID, live, err)
				}
				return nil
			})
		})
	}

	err := run()
	if database.IsUniqueViolation(err) {
		err = run()
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// MarkPending leaves the record unresolved and ties it to a pending alias so
// review can resolve it later. Records that already have a supplier are not
// touched.
func (r *LinkedRecordRepository) MarkPending(ctx context.Context, kind, externalID string, aliasID uint) (*models.LinkedRecord, error) {
	if kind == "" {
		kind = DefaultRecordKind
	}
	var record models.LinkedRecord
	run := func() error {
		return database.WithRetry(ctx, r.Retry, "mark record pending", func() error {
			return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if _, err := findOrInitRecord(tx, kind, externalID, &record); err != nil {
					return err
				}
				if record.SupplierID != nil {
					return nil
				}
				record.PendingAliasID = &aliasID
				record.UpdatedAt = nowMillis()
				if err := tx.Save(&record).Error; err != nil {
					return fmt.Errorf("failed to mark record %s/%s pending: %w", kind, externalID, err)
				}
				return nil
			})
		})
	}

	err := run()
	if database.IsUniqueViolation(err) {
		err = run()
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetByExternalID retrieves a record by its kind and external identifier.
func (r *LinkedRecordRepository) GetByExternalID(ctx context.Context, kind, externalID string) (*models.LinkedRecord, error) {
	if kind == "" {
		kind = DefaultRecordKind
	}
	var record models.LinkedRecord
	err := r.DB.WithContext(ctx).Where("kind = ? AND external_id = ?", kind, externalID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &apperrors.NotFoundError{Resource: "linked record", ID: kind + "/" + externalID}
		}
		return nil, fmt.Errorf("failed to get record %s/%s: %w", kind, externalID, err)
	}
	return &record, nil
}

// ListBySupplier retrieves the records referencing the live owner of supplierID.
func (r *LinkedRecordRepository) ListBySupplier(ctx context.Context, supplierID uint) ([]models.LinkedRecord, error) {
	var records []models.LinkedRecord
	err := database.WithRetry(ctx, r.Retry, "list records", func() error {
		return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			live, err := resolveLive(tx, supplierID)
			if err != nil {
				return err
			}
			return tx.Where("supplier_id = ?", live).Order("kind ASC, external_id ASC").Find(&records).Error
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records for supplier %d: %w", supplierID, err)
	}
	return records, nil
}
