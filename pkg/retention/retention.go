// Package retention removes terminal executions from the ledger once they age out.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leadpipe/orchestrator/pkg/metrics"
	"github.com/leadpipe/orchestrator/pkg/persistence"
	"github.com/robfig/cron/v3"
)

type Sweeper struct {
	executions persistence.ExecutionRepository
	maxAge     time.Duration
	metrics    metrics.Sink
	logger     *slog.Logger
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithMetrics(sink metrics.Sink) Option {
	return func(s *Sweeper) { s.metrics = sink }
}

func NewSweeper(executions persistence.ExecutionRepository, maxAge time.Duration, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		executions: executions,
		maxAge:     maxAge,
		metrics:    metrics.NewNoopSink(),
		logger:     logger.With("module", "retention"),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sweep deletes terminal executions that ended more than maxAge ago. Open executions are
// never touched regardless of age.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)

	deleted, err := s.executions.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal executions: %w", err)
	}

	s.metrics.RetentionSwept(deleted)
	s.logger.InfoContext(ctx, "retention sweep finished", "cutoff", cutoff, "deleted", deleted)

	return deleted, nil
}

// Start runs Sweep on the given cron schedule until Stop is called.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := c.AddFunc(schedule, func() {
		_, err := s.Sweep(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	c.Start()
	s.cron = c

	s.logger.InfoContext(ctx, "retention sweeper started", "schedule", schedule, "max_age", s.maxAge)

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
