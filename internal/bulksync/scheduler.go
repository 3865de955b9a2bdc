package bulksync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs SyncAll on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	syncer *Syncer
	logger *slog.Logger
	ctx    context.Context
}

// NewScheduler validates the schedule and registers the sync job.
func NewScheduler(syncer *Syncer, schedule string, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{cron: cron.New(), syncer: syncer, logger: logger, ctx: context.Background()}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("bulksync: schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	results, err := s.syncer.SyncAll(s.ctx)
	if err != nil {
		s.logger.Error("bulksync: scheduled sync failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("bulksync: scheduled sync complete", slog.Int("ccts", len(results)))
}

// Run starts the scheduler and blocks until ctx is cancelled. A job in
// progress sees the same cancellation and stops at its next item.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	if entries := s.cron.Entries(); len(entries) > 0 {
		s.logger.Info("bulksync: scheduler started", slog.Time("next_run", entries[0].Next))
	}
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("bulksync: scheduler stopped")
	return nil
}
