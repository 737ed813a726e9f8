package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"regional-stats-chatbot/internal/logger"
)

// Sweeper periodically scans for RUNNING jobs whose heartbeat went
// silent. It only flags; resetting a stuck job stays an operator
// decision.
type Sweeper struct {
	scheduler *gocron.Scheduler
	jobs      *JobController
}

func NewSweeper(jobs *JobController) *Sweeper {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &Sweeper{scheduler: s, jobs: jobs}
}

// Start schedules the sweep on the given cron expression and runs the
// scheduler in the background.
func (s *Sweeper) Start(cronExpr string) error {
	_, err := s.scheduler.Cron(cronExpr).Tag("stuck-job-sweep").Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.jobs.SweepStuck(ctx)
	})
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	logger.Info("stuck-job sweeper scheduled", "cron", cronExpr)
	return nil
}

func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}
