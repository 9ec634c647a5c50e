package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/supplierresolver/database"
	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/models"
	"github.com/camden-git/supplierresolver/normalize"
)

type testStores struct {
	db        *gorm.DB
	suppliers *SupplierRepository
	aliases   *AliasRepository
	records   *LinkedRecordRepository
	leases    *LeaseRepository
}

func newTestStores(t *testing.T) testStores {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	retry := database.RetryConfig{MaxAttempts: 10, InitialDelay: 5 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}
	return testStores{
		db:        db,
		suppliers: NewSupplierRepository(db, retry),
		aliases:   NewAliasRepository(db, retry),
		records:   NewLinkedRecordRepository(db, retry),
		leases:    NewLeaseRepository(db, retry),
	}
}

func (s testStores) supplier(t *testing.T, name string) *models.Supplier {
	t.Helper()
	now := time.Now().UnixMilli()
	sup := &models.Supplier{Name: name, CreatedAt: now, UpdatedAt: now, Active: true}
	require.NoError(t, s.db.Create(sup).Error)
	return sup
}

func aliasIn(text, source, key string, supplierID uint, conf float64) AliasInput {
	return AliasInput{Text: text, Source: source, NormalizedKey: key, BlockingKey: key[:min(3, len(key))], SupplierID: supplierID, Confidence: conf}
}

func TestUpsertIsIdempotentAndKeepsMaxConfidence(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	acme := s.supplier(t, "Acme Corp")

	first, err := s.aliases.Upsert(ctx, aliasIn("ACME Corp", "email", "acme", acme.ID, 0.9))
	require.NoError(t, err)

	second, err := s.aliases.Upsert(ctx, aliasIn("ACME Corp", "email", "acme", acme.ID, 0.4))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 0.9, second.Confidence, 1e-9)

	third, err := s.aliases.Upsert(ctx, aliasIn("ACME Corp", "email", "acme", acme.ID, 0.95))
	require.NoError(t, err)
	assert.InDelta(t, 0.95, third.Confidence, 1e-9)

	n, err := s.suppliers.CountAliases(ctx, acme.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestUpsertConflictsWithDifferentOwner(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	acme := s.supplier(t, "Acme")
	globex := s.supplier(t, "Globex")

	_, err := s.aliases.Upsert(ctx, aliasIn("Acme", "po", "acme", acme.ID, 1))
	require.NoError(t, err)

	_, err = s.aliases.Upsert(ctx, aliasIn("Acme", "po", "acme", globex.ID, 1))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAliasConflict))

	var conflict *apperrors.AliasConflictError
	require.True(t, apperrors.As(err, &conflict))
	assert.Equal(t, acme.ID, conflict.ExistingSupplierID)
	assert.Equal(t, globex.ID, conflict.RequestedSupplier)

	// the same text under another source is a distinct alias
	_, err = s.aliases.Upsert(ctx, aliasIn("Acme", "email", "acme", globex.ID, 1))
	assert.NoError(t, err)
}

func TestUpsertFollowsRedirects(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	a := s.supplier(t, "A")
	b := s.supplier(t, "B")

	_, err := s.aliases.Upsert(ctx, aliasIn("Bee", "po", "bee", b.ID, 0.7))
	require.NoError(t, err)
	_, err = s.suppliers.Merge(ctx, b.ID, a.ID, 1, "test", models.MergedByAdmin)
	require.NoError(t, err)

	// an observation against the old id lands on the survivor without conflict
	alias, err := s.aliases.Upsert(ctx, aliasIn("Bee", "po", "bee", b.ID, 0.8))
	require.NoError(t, err)
	require.NotNil(t, alias.SupplierID)
	assert.Equal(t, a.ID, *alias.SupplierID)
	assert.InDelta(t, 0.8, alias.Confidence, 1e-9)
}

func TestConcurrentUpsertsKeepTextSourceUnique(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	acme := s.supplier(t, "Acme")

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.aliases.Upsert(ctx, aliasIn("Acme Inc", "invoice", "acme", acme.ID, float64(i+1)/10))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	var count int64
	require.NoError(t, s.db.Model(&models.Alias{}).Where("text = ? AND source = ?", "Acme Inc", "invoice").Count(&count).Error)
	assert.EqualValues(t, 1, count)

	alias, err := s.aliases.FindByTextSource(ctx, "Acme Inc", "invoice")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, alias.Confidence, 1e-9)
}

func TestPendingLifecycle(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	acme := s.supplier(t, "Acme")

	pending, created, err := s.aliases.CreatePending(ctx, aliasIn("Acmee", "email", "acmee", 0, 0.7), acme.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, pending.IsPending())
	assert.Nil(t, pending.SupplierID)
	require.NotNil(t, pending.CandidateSupplierID)

	again, created, err := s.aliases.CreatePending(ctx, aliasIn("Acmee", "email", "acmee", 0, 0.7), acme.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, pending.ID, again.ID)

	_, err = s.records.MarkPending(ctx, "po", "PO-1", pending.ID)
	require.NoError(t, err)

	// pending rows block ordinary upserts
	_, err = s.aliases.Upsert(ctx, aliasIn("Acmee", "email", "acmee", acme.ID, 1))
	assert.True(t, apperrors.Is(err, apperrors.ErrAliasConflict))

	list, err := s.aliases.ListPending(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	confirmed, err := s.aliases.ConfirmPending(ctx, pending.ID, acme.ID, 0.5)
	require.NoError(t, err)
	assert.False(t, confirmed.IsPending())
	assert.InDelta(t, 0.7, confirmed.Confidence, 1e-9)

	record, err := s.records.GetByExternalID(ctx, "po", "PO-1")
	require.NoError(t, err)
	require.NotNil(t, record.SupplierID)
	assert.Equal(t, acme.ID, *record.SupplierID)
	assert.Nil(t, record.PendingAliasID)

	_, err = s.aliases.ConfirmPending(ctx, pending.ID, acme.ID, 1)
	assert.True(t, apperrors.Is(err, apperrors.ErrAliasConflict))
}

func TestConfirmPendingAsNewSupplier(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	acme := s.supplier(t, "Acme")

	pending, _, err := s.aliases.CreatePending(ctx, aliasIn("Acne Labs", "po", "acne labs", 0, 0.65), acme.ID)
	require.NoError(t, err)

	sup, alias, err := s.aliases.ConfirmPendingAsNewSupplier(ctx, pending.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Acne Labs", sup.Name)
	assert.NotEqual(t, acme.ID, sup.ID)
	require.NotNil(t, alias.SupplierID)
	assert.Equal(t, sup.ID, *alias.SupplierID)
	assert.InDelta(t, 1.0, alias.Confidence, 1e-9)
}

func TestCreateWithNewSupplierReportsExistingAlias(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	sup, alias, created, err := s.aliases.CreateWithNewSupplier(ctx, "Globex", aliasIn("Globex", "po", "globex", 0, 1))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, sup.ID, *alias.SupplierID)

	sup2, alias2, created, err := s.aliases.CreateWithNewSupplier(ctx, "Globex", aliasIn("Globex", "po", "globex", 0, 1))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, sup2)
	assert.Equal(t, alias.ID, alias2.ID)

	all, err := s.suppliers.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMergeMovesEverythingAndRedirects(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	a := s.supplier(t, "A")
	b := s.supplier(t, "B")
	for i := 0; i < 3; i++ {
		_, err := s.aliases.Upsert(ctx, aliasIn(fmt.Sprintf("bee %d", i), "po", "bee", b.ID, 1))
		require.NoError(t, err)
	}
	_, err := s.records.Attach(ctx, "po", "PO-9", b.ID)
	require.NoError(t, err)

	audit, err := s.suppliers.Merge(ctx, b.ID, a.ID, 0.97, "test", models.MergedByAdmin)
	require.NoError(t, err)
	require.NotNil(t, audit)
	assert.EqualValues(t, 3, audit.AliasCount)
	assert.EqualValues(t, 1, audit.RecordCount)

	live, err := s.suppliers.ResolveLive(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, live)

	aliases, err := s.aliases.ListBySupplier(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, aliases, 3)
	viaOld, err := s.aliases.ListBySupplier(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, viaOld, 3)

	records, err := s.records.ListBySupplier(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	old, err := s.suppliers.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)
	require.NotNil(t, old.MergedAt)

	// merging again is a no-op
	again, err := s.suppliers.Merge(ctx, b.ID, a.ID, 1, "test", models.MergedByAdmin)
	require.NoError(t, err)
	assert.Nil(t, again)

	_, err = s.suppliers.Merge(ctx, a.ID, a.ID, 1, "test", models.MergedByAdmin)
	assert.True(t, apperrors.Is(err, apperrors.ErrMergeConflict))

	_, err = s.suppliers.Merge(ctx, 999, a.ID, 1, "test", models.MergedByAdmin)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestMergeTransitivityAndPathCompression(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	a := s.supplier(t, "A")
	b := s.supplier(t, "B")
	c := s.supplier(t, "C")
	d := s.supplier(t, "D")

	// C → B, then B → A, then A → D: C's recorded redirect is now two hops stale.
	_, err := s.suppliers.Merge(ctx, c.ID, b.ID, 1, "", models.MergedByAdmin)
	require.NoError(t, err)
	_, err = s.suppliers.Merge(ctx, b.ID, a.ID, 1, "", models.MergedByAdmin)
	require.NoError(t, err)
	_, err = s.suppliers.Merge(ctx, a.ID, d.ID, 1, "", models.MergedByAdmin)
	require.NoError(t, err)

	live, err := s.suppliers.ResolveLive(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, live)

	compressed, err := s.suppliers.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, compressed.RedirectTo)
	assert.Equal(t, d.ID, *compressed.RedirectTo)

	merges, err := s.suppliers.ListMerges(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, merges, 2)
}

func TestAttachNeverRepointsRecords(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	a := s.supplier(t, "A")
	b := s.supplier(t, "B")

	_, err := s.records.Attach(ctx, "po", "PO-1", a.ID)
	require.NoError(t, err)
	record, err := s.records.Attach(ctx, "po", "PO-1", b.ID)
	require.NoError(t, err)
	require.NotNil(t, record.SupplierID)
	assert.Equal(t, a.ID, *record.SupplierID)

	// marking an attached record pending leaves it alone
	record, err = s.records.MarkPending(ctx, "po", "PO-1", 42)
	require.NoError(t, err)
	assert.Nil(t, record.PendingAliasID)
}

func TestCandidateSetAndOverlaps(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	acme := s.supplier(t, "Acme")
	acme2 := s.supplier(t, "ACME Corporation")
	globex := s.supplier(t, "Globex")

	for _, in := range []AliasInput{
		aliasIn("Acme", "po", "acme", acme.ID, 1),
		aliasIn("ACME Inc", "email", "acme", acme.ID, 1),
		aliasIn("ACME Corporation", "po", "acme", acme2.ID, 1),
		aliasIn("Globex", "po", "globex", globex.ID, 1),
	} {
		_, err := s.aliases.Upsert(ctx, in)
		require.NoError(t, err)
	}

	candidates, err := s.aliases.FindCandidateSet(ctx, "acm")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, acme.ID, candidates[0].SupplierID)
	assert.Equal(t, 2, candidates[0].AliasCount)
	assert.Equal(t, "acme", candidates[0].Key)
	assert.Equal(t, acme2.ID, candidates[1].SupplierID)
	assert.Equal(t, 1, candidates[1].AliasCount)

	all, err := s.aliases.FindCandidateSet(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pairs, err := s.aliases.FindKeyOverlaps(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, SupplierPair{A: acme.ID, B: acme2.ID, SharedKeys: 1}, pairs[0])

	n, err := s.aliases.CountConfirmed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestReassignAlias(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	a := s.supplier(t, "A")
	b := s.supplier(t, "B")

	alias, err := s.aliases.Upsert(ctx, aliasIn("Wrong", "manual", "wrong", a.ID, 0.9))
	require.NoError(t, err)

	moved, err := s.aliases.Reassign(ctx, alias.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, *moved.SupplierID)

	_, err = s.aliases.Reassign(ctx, 12345, b.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestListActiveUsesNaturalOrder(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	for _, name := range []string{"Supplier 10", "Supplier 2", "supplier 1"} {
		s.supplier(t, name)
	}

	list, err := s.suppliers.ListActive(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, sup := range list {
		names = append(names, sup.Name)
	}
	assert.Equal(t, []string{"supplier 1", "Supplier 2", "Supplier 10"}, names)
}

func TestLeaseAcquireAndRelease(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	ok, err := s.leases.Acquire(ctx, "merge", "p1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.leases.Acquire(ctx, "merge", "p2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.leases.Acquire(ctx, "merge", "p1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "holder may renew")

	require.NoError(t, s.leases.Release(ctx, "merge", "p1"))
	ok, err = s.leases.Acquire(ctx, "merge", "p2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// expired leases can be taken over
	ok, err = s.leases.Acquire(ctx, "other", "p1", -time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.leases.Acquire(ctx, "other", "p2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRekeyAppliesNewKeyRules(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	acme := s.supplier(t, "Acme")

	_, err := s.aliases.Upsert(ctx, aliasIn("Acme Holdings", "po", "acme holdings", acme.ID, 1))
	require.NoError(t, err)
	_, err = s.aliases.Upsert(ctx, aliasIn("Acme", "email", "acme", acme.ID, 1))
	require.NoError(t, err)

	n := normalize.New([]string{"holdings"}, 4)
	keys := func(text string) (string, string) {
		key := n.Normalize(text)
		return key, n.BlockingKey(key)
	}

	updated, err := s.aliases.Rekey(ctx, keys, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	same, err := s.aliases.FindConfirmedByKey(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, same, 2)
	for _, a := range same {
		assert.Equal(t, "acme", a.BlockingKey)
	}

	updated, err = s.aliases.Rekey(ctx, keys, 1)
	require.NoError(t, err)
	assert.Zero(t, updated)
}
