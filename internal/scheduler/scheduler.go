package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ubuygold/studygen/internal/model"
	"github.com/ubuygold/studygen/internal/quota"
)

// Reporter aggregates one day of usage.
type Reporter interface {
	Report(ctx context.Context, day string) (*quota.Report, error)
}

// Scheduler logs a usage report for the previous UTC day on a cron schedule.
type Scheduler struct {
	reporter Reporter
	spec     string
	logger   *slog.Logger
	c        *cron.Cron
	now      func() time.Time
}

func NewScheduler(reporter Reporter, spec string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		reporter: reporter,
		spec:     spec,
		logger:   logger.With("component", "scheduler"),
		c:        cron.New(cron.WithLocation(time.UTC)),
		now:      time.Now,
	}
}

func (s *Scheduler) Start() error {
	_, err := s.c.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.RunUsageReport(ctx); err != nil {
			s.logger.Error("Daily usage report failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling usage report %q: %w", s.spec, err)
	}
	s.c.Start()
	return nil
}

// RunUsageReport builds and logs the report for yesterday.
func (s *Scheduler) RunUsageReport(ctx context.Context) (*quota.Report, error) {
	day := model.DayOf(s.now().UTC().AddDate(0, 0, -1))
	report, err := s.reporter.Report(ctx, day)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Daily usage report", "day", report.Day, "users", report.Users, "generations", report.Generations)
	return report, nil
}

func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}
