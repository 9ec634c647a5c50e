package workers

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/logging"
	"github.com/camden-git/supplierresolver/reconcile"
)

// PassRunner runs one merge pass.
type PassRunner interface {
	RunPass(ctx context.Context) (*reconcile.PassReport, error)
}

// MergeScheduler runs merge passes on a fixed interval.
type MergeScheduler struct {
	Runner   PassRunner
	Interval time.Duration
	Wg       sync.WaitGroup
	StopChan chan struct{}
	stopOnce sync.Once
}

func NewMergeScheduler(runner PassRunner, interval time.Duration) *MergeScheduler {
	return &MergeScheduler{
		Runner:   runner,
		Interval: interval,
		StopChan: make(chan struct{}),
	}
}

// Start launches the scheduling loop. A non-positive interval leaves the
// scheduler idle; passes can still be triggered by hand.
func (s *MergeScheduler) Start(ctx context.Context) {
	log := logging.Component("workers")
	if s.Interval <= 0 {
		log.Info().Msg("merge scheduler disabled")
		return
	}
	s.Wg.Add(1)
	go func() {
		defer s.Wg.Done()
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		log.Info().Dur("interval", s.Interval).Msg("merge scheduler started")
		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx)
			case <-ctx.Done():
				log.Info().Msg("merge scheduler stopping: context done")
				return
			case <-s.StopChan:
				log.Info().Msg("merge scheduler stopping: stop signal received")
				return
			}
		}
	}()
}

func (s *MergeScheduler) runOnce(ctx context.Context) {
	log := logging.Component("workers")
	report, err := s.Runner.RunPass(ctx)
	switch {
	case apperrors.Is(err, apperrors.ErrPassInProgress):
		log.Debug().Msg("merge pass skipped, another pass is running")
	case err != nil:
		log.Error().Err(err).Msg("merge pass failed")
	default:
		log.Debug().Int("merged", report.Merged).Msg("scheduled merge pass complete")
	}
}

func (s *MergeScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.StopChan)
		s.Wg.Wait()
	})
}
