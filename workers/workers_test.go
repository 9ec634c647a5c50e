package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/reconcile"
	"github.com/camden-git/supplierresolver/resolver"
)

type fakeIngester struct {
	calls atomic.Int32
}

func (f *fakeIngester) Ingest(_ context.Context, m resolver.Mention) (*resolver.Resolution, error) {
	f.calls.Add(1)
	if m.RawName == "" {
		return nil, apperrors.NewInvalidMentionError("raw_name", "must not be blank")
	}
	return &resolver.Resolution{Decision: resolver.DecisionCreated}, nil
}

func TestIngestBatchKeepsInputOrder(t *testing.T) {
	ingester := &fakeIngester{}
	pool := NewIngestPool(ingester, 2, 3)
	defer pool.Stop()

	mentions := []resolver.Mention{
		{RawName: "Acme", Source: "po"},
		{RawName: "", Source: "po"},
		{RawName: "Globex", Source: "email"},
		{RawName: "Initech", Source: "invoice"},
		{RawName: "Umbrella", Source: "po"},
	}
	results := pool.IngestBatch(context.Background(), mentions)

	require.Len(t, results, len(mentions))
	for i, res := range results {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, mentions[i], res.Mention)
	}
	assert.True(t, apperrors.Is(results[1].Err, apperrors.ErrInvalidMention))
	assert.NoError(t, results[0].Err)
	assert.Equal(t, resolver.DecisionCreated, results[4].Resolution.Decision)
	assert.EqualValues(t, 5, ingester.calls.Load())
}

func TestIngestBatchAfterStop(t *testing.T) {
	pool := NewIngestPool(&fakeIngester{}, 1, 1)
	pool.Stop()
	pool.Stop()

	results := pool.IngestBatch(context.Background(), []resolver.Mention{{RawName: "Acme", Source: "po"}})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrPoolStopped)
}

func TestIngestBatchCancelledContext(t *testing.T) {
	ingester := &fakeIngester{}
	pool := NewIngestPool(ingester, 4, 1)
	defer pool.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := pool.IngestBatch(ctx, []resolver.Mention{{RawName: "Acme", Source: "po"}, {RawName: "Globex", Source: "po"}})
	for _, res := range results {
		assert.True(t, errors.Is(res.Err, context.Canceled))
	}
	assert.Zero(t, ingester.calls.Load())
}

type countingRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRunner) RunPass(context.Context) (*reconcile.PassReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &reconcile.PassReport{}, nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestMergeSchedulerRunsPeriodically(t *testing.T) {
	runner := &countingRunner{}
	s := NewMergeScheduler(runner, 5*time.Millisecond)
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return runner.count() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	stopped := runner.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, runner.count())
}

func TestMergeSchedulerToleratesBusyPasses(t *testing.T) {
	runner := &countingRunner{err: apperrors.ErrPassInProgress}
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMergeScheduler(runner, 5*time.Millisecond)
	s.Start(ctx)

	assert.Eventually(t, func() bool { return runner.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	s.Wg.Wait()
}

func TestMergeSchedulerDisabled(t *testing.T) {
	runner := &countingRunner{}
	s := NewMergeScheduler(runner, 0)
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	assert.Zero(t, runner.count())
}
