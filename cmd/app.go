package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/camden-git/supplierresolver/config"
	"github.com/camden-git/supplierresolver/database"
	"github.com/camden-git/supplierresolver/logging"
	"github.com/camden-git/supplierresolver/normalize"
	"github.com/camden-git/supplierresolver/realtime"
	"github.com/camden-git/supplierresolver/reconcile"
	"github.com/camden-git/supplierresolver/repository"
	"github.com/camden-git/supplierresolver/resolver"
	"github.com/camden-git/supplierresolver/similarity"
	"github.com/camden-git/supplierresolver/workers"
)

// app wires the store, resolver, reconciler and worker pool from config.
type app struct {
	db         *gorm.DB
	suppliers  *repository.SupplierRepository
	aliases    *repository.AliasRepository
	records    *repository.LinkedRecordRepository
	hub        *realtime.Hub
	resolver   *resolver.Resolver
	reconciler *reconcile.Reconciler
	pool       *workers.IngestPool
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	db, err := database.Open(cfg.DatabasePath, cfg.BusyTimeout)
	if err != nil {
		return nil, err
	}

	retry := database.RetryConfig{
		MaxAttempts:  cfg.StoreRetryAttempts,
		InitialDelay: cfg.StoreRetryInitialDelay,
		MaxDelay:     cfg.StoreRetryMaxDelay,
		Multiplier:   2.0,
	}
	a := &app{
		db:        db,
		suppliers: repository.NewSupplierRepository(db, retry),
		aliases:   repository.NewAliasRepository(db, retry),
		records:   repository.NewLinkedRecordRepository(db, retry),
		hub:       realtime.NewHub(),
	}
	go a.hub.Run(ctx)

	scorer := similarity.NewScorer(cfg.Weights)
	a.resolver = resolver.New(a.suppliers, a.aliases, a.records,
		normalize.New(cfg.LegalSuffixes, cfg.BlockingPrefixLength),
		scorer,
		resolver.Config{
			LowThreshold:       cfg.LowThreshold,
			HighThreshold:      cfg.HighThreshold,
			MaxMentionLength:   cfg.MaxMentionLength,
			Sources:            cfg.Sources,
			BlockingMinAliases: cfg.BlockingMinAliases,
		},
		resolver.WithNotifier(a.hub),
	)
	a.reconciler = reconcile.New(a.suppliers, a.aliases, repository.NewLeaseRepository(db, retry), scorer,
		reconcile.Config{
			MergeThreshold:       cfg.MergeThreshold,
			LeaseTTL:             cfg.MergeLeaseTTL,
			BlockingPrefixLength: cfg.BlockingPrefixLength,
		},
		a.hub,
	)
	a.pool = workers.NewIngestPool(a.resolver, cfg.IngestQueueSize, cfg.NumIngestWorkers)

	logging.Default().Info().
		Str("database", cfg.DatabasePath).
		Float64("low_threshold", cfg.LowThreshold).
		Float64("high_threshold", cfg.HighThreshold).
		Float64("merge_threshold", cfg.MergeThreshold).
		Strs("sources", cfg.Sources).
		Msg("supplier resolver initialized")
	return a, nil
}

func (a *app) Close() {
	a.pool.Stop()
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
