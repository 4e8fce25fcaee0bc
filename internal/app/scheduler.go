package app

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/RossBrod/CareCred/pkg/logger"
)

// Scheduler runs background jobs on cron schedules as a managed service.
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{cron: cron.New(), log: log}
}

// Add registers a job. The spec accepts standard cron expressions and
// @every intervals.
func (s *Scheduler) Add(name, spec string, job func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		s.log.WithField("job", name).Debug("job running")
		job(ctx)
	})
	return err
}

// Name implements system.Service.
func (s *Scheduler) Name() string { return "scheduler" }

// Start begins running scheduled jobs.
func (s *Scheduler) Start(context.Context) error {
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
