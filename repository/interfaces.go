package repository

import (
	"context"
	"time"

	"github.com/camden-git/supplierresolver/models"
	"github.com/camden-git/supplierresolver/similarity"
)

// SupplierRepositoryInterface defines the methods for supplier data operations
type SupplierRepositoryInterface interface {
	GetByID(ctx context.Context, id uint) (*models.Supplier, error)
	ResolveLive(ctx context.Context, id uint) (uint, error)
	GetLive(ctx context.Context, id uint) (*models.Supplier, error)
	ListActive(ctx context.Context) ([]models.Supplier, error)
	Rename(ctx context.Context, id uint, name string) (*models.Supplier, error)
	CountAliases(ctx context.Context, id uint) (int64, error)
	Merge(ctx context.Context, absorbedID, survivorID uint, score float64, reason, mergedBy string) (*models.SupplierMerge, error)
	ListMerges(ctx context.Context, id uint) ([]models.SupplierMerge, error)
}

// AliasRepositoryInterface defines the methods for alias data operations
type AliasRepositoryInterface interface {
	Upsert(ctx context.Context, in AliasInput) (*models.Alias, error)
	CreatePending(ctx context.Context, in AliasInput, candidateID uint) (*models.Alias, bool, error)
	CreateWithNewSupplier(ctx context.Context, name string, in AliasInput) (*models.Supplier, *models.Alias, bool, error)
	GetByID(ctx context.Context, id uint) (*models.Alias, error)
	FindByTextSource(ctx context.Context, text, source string) (*models.Alias, error)
	FindConfirmedByKey(ctx context.Context, key string) ([]models.Alias, error)
	ListBySupplier(ctx context.Context, supplierID uint) ([]models.Alias, error)
	CountConfirmed(ctx context.Context) (int64, error)
	FindCandidateSet(ctx context.Context, blockingKey string) ([]similarity.Candidate, error)
	FindKeyOverlaps(ctx context.Context) ([]SupplierPair, error)
	ListPending(ctx context.Context, limit, offset int) ([]models.Alias, error)
	ConfirmPending(ctx context.Context, aliasID, supplierID uint, confidence float64) (*models.Alias, error)
	ConfirmPendingAsNewSupplier(ctx context.Context, aliasID uint, name string) (*models.Supplier, *models.Alias, error)
	Reassign(ctx context.Context, aliasID, supplierID uint) (*models.Alias, error)
	Rekey(ctx context.Context, keys KeyFunc, batchSize int) (int, error)
}

// LinkedRecordRepositoryInterface defines the methods for linked record data operations
type LinkedRecordRepositoryInterface interface {
	Attach(ctx context.Context, kind, externalID string, supplierID uint) (*models.LinkedRecord, error)
	MarkPending(ctx context.Context, kind, externalID string, aliasID uint) (*models.LinkedRecord, error)
	GetByExternalID(ctx context.Context, kind, externalID string) (*models.LinkedRecord, error)
	ListBySupplier(ctx context.Context, supplierID uint) ([]models.LinkedRecord, error)
}

// LeaseRepositoryInterface defines the methods for lease operations
type LeaseRepositoryInterface interface {
	Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, holder string) error
}

var (
	_ SupplierRepositoryInterface     = (*SupplierRepository)(nil)
	_ AliasRepositoryInterface        = (*AliasRepository)(nil)
	_ LinkedRecordRepositoryInterface = (*LinkedRecordRepository)(nil)
	_ LeaseRepositoryInterface        = (*LeaseRepository)(nil)
)
