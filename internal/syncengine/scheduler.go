package syncengine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner runs a whole-store pass. *Engine satisfies it.
type Runner interface {
	Run(ctx context.Context) (*Report, error)
}

// Scheduler runs passes periodically and on demand in a single background
// goroutine.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *zap.Logger

	triggerCh chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu   sync.RWMutex
	last *Report
}

// NewScheduler creates a scheduler. An interval <= 0 disables periodic
// passes; Trigger still works.
func NewScheduler(runner Runner, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
		// Triggers arriving during a pass collapse into one follow-up pass.
		triggerCh: make(chan struct{}, 1),
	}
}

// Start launches the loop. It stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

func (s *Scheduler) loop(ctx context.Context) {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync: scheduler shutdown requested")
			return
		case <-tick:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	report, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Debug("sync: scheduled pass interrupted", zap.Error(err))
	}
	if report != nil {
		s.mu.Lock()
		s.last = report
		s.mu.Unlock()
	}
}

// Trigger requests a pass without blocking. Returns false if one is already
// queued.
func (s *Scheduler) Trigger() bool {
	select {
	case s.triggerCh <- struct{}{}:
		return true
	default:
		s.logger.Debug("sync: pass already queued, coalescing trigger")
		return false
	}
}

// LastReport returns the report of the most recent scheduled pass.
func (s *Scheduler) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Stop cancels the loop and waits for an in-flight pass to return.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.logger.Info("sync: scheduler stopping")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("sync: scheduler stopped")
}
