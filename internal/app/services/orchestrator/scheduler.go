package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/raffleworks/raffle-engine/pkg/logger"
)

// Scheduler runs the draw cycle on a cron cadence. Ticks never overlap:
// a tick that fires while the previous cycle is still running is skipped.
type Scheduler struct {
	svc  *Service
	cron *cron.Cron
	log  *logger.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler wires the orchestrator's draw cycle into a cron runner
// with the given spec (standard five-field syntax, e.g. "*/5 * * * *").
func NewScheduler(svc *Service, spec string, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	s := &Scheduler{
		svc:  svc,
		cron: cron.New(),
		log:  log,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid draw cycle schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("draw scheduler started")
}

// Stop halts the cron runner and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.log.Info("draw scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Debug("draw cycle still running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := s.svc.RunDrawCycle(ctx); err != nil {
		s.log.WithError(err).Error("draw cycle finished with errors")
	}
}
