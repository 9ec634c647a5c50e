package workers

import (
	"context"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/logging"
	"github.com/camden-git/supplierresolver/resolver"
)

// ErrPoolStopped is returned for jobs that could not run because the pool shut down.
var ErrPoolStopped = apperrors.New("ingest pool stopped")

// Ingester is the part of the resolver the pool drives.
type Ingester interface {
	Ingest(ctx context.Context, m resolver.Mention) (*resolver.Resolution, error)
}

type IngestJob struct {
	Ctx     context.Context
	Index   int
	Mention resolver.Mention
	Result  chan<- IngestResult
}

type IngestResult struct {
	Index      int
	Mention    resolver.Mention
	Resolution *resolver.Resolution
	Err        error
}

type IngestPool struct {
	JobQueue chan IngestJob
	Ingester Ingester
	Wg       sync.WaitGroup
	StopChan chan struct{}
	stopOnce sync.Once
}

func NewIngestPool(ingester Ingester, queueSize, numWorkers int) *IngestPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	pool := &IngestPool{
		JobQueue: make(chan IngestJob, queueSize),
		Ingester: ingester,
		StopChan: make(chan struct{}),
	}
	pool.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go pool.worker(i)
	}
	logging.Component("workers").Info().Int("workers", numWorkers).Int("queue_size", queueSize).Msg("started ingest worker pool")
	return pool
}

func (p *IngestPool) worker(id int) {
	defer p.Wg.Done()
	log := logging.Component("workers").With().Int("worker", id).Logger()
	log.Debug().Msg("ingest worker started")
	for {
		select {
		case job := <-p.JobQueue:
			res := IngestResult{Index: job.Index, Mention: job.Mention}
			if err := job.Ctx.Err(); err != nil {
				res.Err = err
			} else {
				res.Resolution, res.Err = p.Ingester.Ingest(job.Ctx, job.Mention)
			}
			if res.Err != nil {
				log.Debug().Err(res.Err).Str("raw_name", job.Mention.RawName).Msg("mention failed")
			}
			job.Result <- res

		case <-p.StopChan:
			log.Debug().Msg("ingest worker stopping: stop signal received")
			return
		}
	}
}

// Submit queues a job, blocking while the queue is full.
func (p *IngestPool) Submit(job IngestJob) error {
	select {
	case <-p.StopChan:
		return ErrPoolStopped
	default:
	}
	select {
	case p.JobQueue <- job:
		return nil
	case <-job.Ctx.Done():
		return job.Ctx.Err()
	case <-p.StopChan:
		return ErrPoolStopped
	}
}

// IngestBatch resolves mentions concurrently and returns one result per
// mention in input order.
func (p *IngestPool) IngestBatch(ctx context.Context, mentions []resolver.Mention) []IngestResult {
	batchID := uuid.NewString()
	log := logging.FromContext(ctx).With().Str("batch", batchID).Logger()
	ctx = logging.WithLogger(ctx, &log)

	results := make([]IngestResult, len(mentions))
	done := make([]bool, len(mentions))
	resultCh := make(chan IngestResult, len(mentions))

	submitted := 0
	for i, m := range mentions {
		err := p.Submit(IngestJob{Ctx: ctx, Index: i, Mention: m, Result: resultCh})
		if err != nil {
			results[i] = IngestResult{Index: i, Mention: m, Err: err}
			done[i] = true
			continue
		}
		submitted++
	}

collect:
	for received := 0; received < submitted; received++ {
		select {
		case res := <-resultCh:
			results[res.Index] = res
			done[res.Index] = true
		case <-p.StopChan:
			break collect
		}
	}
	for i := range results {
		if !done[i] {
			results[i] = IngestResult{Index: i, Mention: mentions[i], Err: ErrPoolStopped}
		}
	}

	log.Info().Int("mentions", len(mentions)).Msg("batch ingested")
	return results
}

func (p *IngestPool) Stop() {
	p.stopOnce.Do(func() {
		logging.Component("workers").Info().Msg("stopping ingest worker pool...")
		close(p.StopChan)
		p.Wg.Wait()
		logging.Component("workers").Info().Msg("all ingest workers stopped")
	})
}
