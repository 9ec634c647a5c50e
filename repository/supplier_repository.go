package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/facette/natsort"
	"gorm.io/gorm"

	"github.com/camden-git/supplierresolver/database"
	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/models"
)

// SupplierRepository handles database operations for Supplier entities,
// the redirect table and merges.
type SupplierRepository struct {
	DB    *gorm.DB
	Retry database.RetryConfig
}

// NewSupplierRepository creates a new instance of SupplierRepository
func NewSupplierRepository(db *gorm.DB, retry database.RetryConfig) *SupplierRepository {
	return &SupplierRepository{DB: db, Retry: retry}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// GetByID retrieves a supplier row exactly as stored, without following redirects.
func (r *SupplierRepository) GetByID(ctx context.Context, id uint) (*models.Supplier, error) {
	var supplier models.Supplier
	err := r.DB.WithContext(ctx).First(&supplier, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("supplier", id)
		}
		return nil, fmt.Errorf("failed to get supplier by ID %d: %w", id, err)
	}
	return &supplier, nil
}

// ResolveLive maps a supplier id, possibly merged away long ago, to the id of
// the live supplier that currently owns its identity.
func (r *SupplierRepository) ResolveLive(ctx context.Context, id uint) (uint, error) {
	var live uint
	err := database.WithRetry(ctx, r.Retry, "resolve supplier", func() error {
		return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			live, err = resolveLive(tx, id)
			return err
		})
	})
	return live, err
}

// GetLive resolves id and returns the live supplier with its confirmed aliases.
func (r *SupplierRepository) GetLive(ctx context.Context, id uint) (*models.Supplier, error) {
	live, err := r.ResolveLive(ctx, id)
	if err != nil {
		return nil, err
	}
	var supplier models.Supplier
	err = r.DB.WithContext(ctx).
		Preload("Aliases", "status = ?", models.AliasConfirmed).
		First(&supplier, live).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("supplier", live)
		}
		return nil, fmt.Errorf("failed to get supplier %d: %w", live, err)
	}
	return &supplier, nil
}

// ListActive retrieves all live suppliers in natural name order.
func (r *SupplierRepository) ListActive(ctx context.Context) ([]models.Supplier, error) {
	var suppliers []models.Supplier
	err := r.DB.WithContext(ctx).Where("active = ?", true).Find(&suppliers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}
	sortSuppliersNaturally(suppliers)
	return suppliers, nil
}

func sortSuppliersNaturally(suppliers []models.Supplier) {
	// insertion sort keeps equal names in id order; natsort has no stable slice helper
	for i := 1; i < len(suppliers); i++ {
		for j := i; j > 0 && supplierLess(suppliers[j], suppliers[j-1]); j-- {
			suppliers[j], suppliers[j-1] = suppliers[j-1], suppliers[j]
		}
	}
}

func supplierLess(a, b models.Supplier) bool {
	an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if an == bn {
		return a.ID < b.ID
	}
	return natsort.Compare(an, bn)
}

// Rename is the explicit display-name correction for a live supplier.
func (r *SupplierRepository) Rename(ctx context.Context, id uint, name string) (*models.Supplier, error) {
	var supplier models.Supplier
	err := database.WithRetry(ctx, r.Retry, "rename supplier", func() error {
		return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			live, err := resolveLive(tx, id)
			if err != nil {
				return err
			}
			result := tx.Model(&models.Supplier{}).Where("id = ?", live).
				Updates(map[string]interface{}{"name": name, "updated_at": nowMillis()})
			if result.Error != nil {
				return fmt.Errorf("failed to rename supplier %d: %w", live, result.Error)
			}
			return tx.First(&supplier, live).Error
		})
	})
	if err != nil {
		return nil, err
	}
	return &supplier, nil
}

// CountAliases returns the number of confirmed aliases owned by a supplier.
func (r *SupplierRepository) CountAliases(ctx context.Context, id uint) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Alias{}).
		Where("supplier_id = ? AND status = ?", id, models.AliasConfirmed).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count aliases for supplier %d: %w", id, err)
	}
	return n, nil
}

// Merge folds absorbedID into survivorID in one transaction: confirmed aliases,
// pending-candidate references and linked records move to the survivor, the
// absorbed supplier is deactivated and redirected, and an audit row is
// written. Both ids are resolved to their live owners first; if they already
// share one, Merge is a no-op and returns (nil, nil).
func (r *SupplierRepository) Merge(ctx context.Context, absorbedID, survivorID uint, score float64, reason, mergedBy string) (*models.SupplierMerge, error) {
	if absorbedID == survivorID {
		return nil, apperrors.NewMergeError(absorbedID, survivorID, "a supplier cannot be merged into itself")
	}

	var audit *models.SupplierMerge
	err := database.WithRetry(ctx, r.Retry, "merge suppliers", func() error {
		audit = nil
		return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			from, err := resolveLive(tx, absorbedID)
			if err != nil {
				return err
			}
			into, err := resolveLive(tx, survivorID)
			if err != nil {
				return err
			}
			if from == into {
				return nil
			}

			now := nowMillis()
			moved := tx.Model(&models.Alias{}).Where("supplier_id = ?", from).
				Updates(map[string]interface{}{"supplier_id": into, "updated_at": now})
			if moved.Error != nil {
				return fmt.Errorf("failed to reassign aliases of supplier %d: %w", from, moved.Error)
			}
			err = tx.Model(&models.Alias{}).Where("candidate_supplier_id = ?", from).
				Updates(map[string]interface{}{"candidate_supplier_id": into, "updated_at": now}).Error
			if err != nil {
				return fmt.Errorf("failed to reassign pending candidates of supplier %d: %w", from, err)
			}
			records := tx.Model(&models.LinkedRecord{}).Where("supplier_id = ?", from).
				Updates(map[string]interface{}{"supplier_id": into, "updated_at": now})
			if records.Error != nil {
				return fmt.Errorf("failed to reassign linked records of supplier %d: %w", from, records.Error)
			}

			err = tx.Model(&models.Supplier{}).Where("id = ?", from).Updates(map[string]interface{}{
				"redirect_to": into,
				"active":      false,
				"merged_at":   now,
				"updated_at":  now,
			}).Error
			if err != nil {
				return fmt.Errorf("failed to deactivate supplier %d: %w", from, err)
			}
			if err := tx.Model(&models.Supplier{}).Where("id = ?", into).Update("updated_at", now).Error; err != nil {
				return fmt.Errorf("failed to touch supplier %d: %w", into, err)
			}

			audit = &models.SupplierMerge{
				AbsorbedID:  from,
				SurvivorID:  into,
				Score:       score,
				Reason:      reason,
				MergedBy:    mergedBy,
				AliasCount:  moved.RowsAffected,
				RecordCount: records.RowsAffected,
				CreatedAt:   now,
			}
			if err := tx.Create(audit).Error; err != nil {
				return fmt.Errorf("failed to record merge of %d into %d: %w", from, into, err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return audit, nil
}

// ListMerges returns the merge audit rows that touch a supplier id, newest first.
func (r *SupplierRepository) ListMerges(ctx context.Context, id uint) ([]models.SupplierMerge, error) {
	var merges []models.SupplierMerge
	err := r.DB.WithContext(ctx).
		Where("absorbed_id = ? OR survivor_id = ?", id, id).
		Order("created_at DESC, id DESC").
		Find(&merges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list merges for supplier %d: %w", id, err)
	}
	return merges, nil
}
