// Package reconcile folds duplicate suppliers together in periodic passes.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/logging"
	"github.com/camden-git/supplierresolver/models"
	"github.com/camden-git/supplierresolver/realtime"
	"github.com/camden-git/supplierresolver/repository"
	"github.com/camden-git/supplierresolver/resolver"
	"github.com/camden-git/supplierresolver/similarity"
)

// LeaseName identifies the merge pass lease in reconciler_leases.
const LeaseName = "supplier-merge-pass"

const (
	reasonSharedKey  = "shared normalized key"
	reasonSimilarity = "similar alias"
)

// Config controls merge passes.
type Config struct {
	MergeThreshold       float64
	LeaseTTL             time.Duration
	BlockingPrefixLength int
}

// Pair is a candidate merge between two live suppliers, A < B.
type Pair struct {
	A      uint    `json:"a"`
	B      uint    `json:"b"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// PassReport summarises one merge pass.
type PassReport struct {
	Pairs    int                    `json:"pairs"`
	Merged   int                    `json:"merged"`
	Skipped  int                    `json:"skipped"`
	Errors   int                    `json:"errors"`
	Duration time.Duration          `json:"duration"`
	Merges   []models.SupplierMerge `json:"merges"`
}

// Reconciler runs merge passes. Passes are mutually exclusive within the
// process (mutex) and across processes sharing the database (lease).
type Reconciler struct {
	suppliers repository.SupplierRepositoryInterface
	aliases   repository.AliasRepositoryInterface
	leases    repository.LeaseRepositoryInterface
	scorer    *similarity.Scorer
	cfg       Config
	notifier  resolver.Notifier
	holder    string
	mu        sync.Mutex
	log       zerolog.Logger
}

// New creates a Reconciler. notifier may be nil.
func New(
	suppliers repository.SupplierRepositoryInterface,
	aliases repository.AliasRepositoryInterface,
	leases repository.LeaseRepositoryInterface,
	scorer *similarity.Scorer,
	cfg Config,
	notifier resolver.Notifier,
) *Reconciler {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	return &Reconciler{
		suppliers: suppliers,
		aliases:   aliases,
		leases:    leases,
		scorer:    scorer,
		cfg:       cfg,
		notifier:  notifier,
		holder:    uuid.NewString(),
		log:       *logging.Component("reconcile"),
	}
}

// RunPass scans the store for duplicate suppliers and merges them. It returns
// ErrPassInProgress if another pass holds the lock or the lease.
func (r *Reconciler) RunPass(ctx context.Context) (*PassReport, error) {
	if !r.mu.TryLock() {
		return nil, apperrors.ErrPassInProgress
	}
	defer r.mu.Unlock()

	ok, err := r.leases.Acquire(ctx, LeaseName, r.holder, r.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire merge lease: %w", err)
	}
	if !ok {
		return nil, apperrors.ErrPassInProgress
	}
	defer func() {
		if err := r.leases.Release(context.WithoutCancel(ctx), LeaseName, r.holder); err != nil {
			r.log.Warn().Err(err).Msg("failed to release merge lease")
		}
	}()

	start := time.Now()
	candidates, err := r.aliases.FindCandidateSet(ctx, "")
	if err != nil {
		return nil, err
	}
	pairs, err := r.FindPairs(ctx, candidates)
	if err != nil {
		return nil, err
	}

	report := &PassReport{Pairs: len(pairs), Merges: []models.SupplierMerge{}}
	uf := newUnionFind()
	for _, c := range candidates {
		uf.add(c.SupplierID, clusterInfo{createdAt: c.SupplierCreatedAt, aliasCount: c.AliasCount})
	}

	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		if !uf.known(p.A) || !uf.known(p.B) {
			// supplier appeared after the candidate snapshot; next pass picks it up
			report.Skipped++
			continue
		}
		ra, rb := uf.find(p.A), uf.find(p.B)
		if ra == rb {
			report.Skipped++
			continue
		}
		survivor, absorbed := uf.survivor(ra, rb)
		audit, err := r.suppliers.Merge(ctx, absorbed, survivor, p.Score, p.Reason, models.MergedByReconciler)
		if err != nil {
			report.Errors++
			r.log.Error().Err(err).Uint("absorbed", absorbed).Uint("survivor", survivor).Msg("merge failed")
			continue
		}
		uf.union(survivor, absorbed)
		if audit == nil {
			report.Skipped++
			continue
		}
		report.Merged++
		report.Merges = append(report.Merges, *audit)
		r.notify(audit)
	}

	report.Duration = time.Since(start)
	r.log.Info().
		Int("pairs", report.Pairs).
		Int("merged", report.Merged).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Dur("duration", report.Duration).
		Msg("merge pass finished")
	return report, nil
}

// FindPairs lists merge candidates among candidates, best first. Suppliers
// sharing a normalized key pair at 1.0; others pair when a blocking bucket
// puts two of their keys together and they score at least MergeThreshold.
func (r *Reconciler) FindPairs(ctx context.Context, candidates []similarity.Candidate) ([]Pair, error) {
	overlaps, err := r.aliases.FindKeyOverlaps(ctx)
	if err != nil {
		return nil, err
	}

	type pairKey struct{ a, b uint }
	best := make(map[pairKey]Pair)
	for _, o := range overlaps {
		best[pairKey{o.A, o.B}] = Pair{A: o.A, B: o.B, Score: 1.0, Reason: reasonSharedKey}
	}

	index := similarity.NewBlockingIndex(r.cfg.BlockingPrefixLength)
	index.AddBatch(candidates)
	r.log.Debug().Int("indexed", index.Len()).Int("shared_key_pairs", len(overlaps)).Msg("blocking index built")
	for _, c := range candidates {
		for _, other := range index.Lookup(c.Key) {
			if other.SupplierID <= c.SupplierID {
				continue
			}
			k := pairKey{c.SupplierID, other.SupplierID}
			if existing, ok := best[k]; ok && existing.Score >= 1.0 {
				continue
			}
			sim, _ := r.scorer.Similarity(c.Key, other.Key)
			if sim < r.cfg.MergeThreshold {
				continue
			}
			if existing, ok := best[k]; !ok || sim > existing.Score {
				best[k] = Pair{A: k.a, B: k.b, Score: sim, Reason: reasonSimilarity}
			}
		}
	}

	pairs := make([]Pair, 0, len(best))
	for _, p := range best {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Score != pairs[j].Score {
			return pairs[i].Score > pairs[j].Score
		}
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs, nil
}

// Merge is the administrative merge of absorbedID into survivorID.
func (r *Reconciler) Merge(ctx context.Context, absorbedID, survivorID uint, reason string) (*models.SupplierMerge, error) {
	audit, err := r.suppliers.Merge(ctx, absorbedID, survivorID, 1.0, reason, models.MergedByAdmin)
	if err != nil {
		return nil, err
	}
	if audit != nil {
		r.notify(audit)
	}
	return audit, nil
}

func (r *Reconciler) notify(audit *models.SupplierMerge) {
	if r.notifier == nil {
		return
	}
	r.notifier.Broadcast(realtime.Event{
		Type:       realtime.EventSupplierMerged,
		SupplierID: audit.SurvivorID,
		AbsorbedID: audit.AbsorbedID,
		Score:      audit.Score,
	})
}
