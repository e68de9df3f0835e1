package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically purges completed jobs older than the retention
// window.
type Janitor struct {
	repo      *Repository
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
}

func NewJanitor(repo *Repository, retention time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{repo: repo, retention: retention, logger: logger, cron: cron.New()}
}

// Start schedules the purge with a cron spec such as "@hourly".
func (j *Janitor) Start(ctx context.Context, spec string) error {
	if _, err := j.cron.AddFunc(spec, func() { j.RunOnce(ctx) }); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("jobs janitor started", "schedule", spec, "retention", j.retention.String())
	return nil
}

// RunOnce purges immediately.
func (j *Janitor) RunOnce(ctx context.Context) {
	n, err := j.repo.PurgeDone(ctx, time.Now().Add(-j.retention))
	if err != nil {
		j.logger.Error("jobs janitor purge", "err", err)
		return
	}
	if n > 0 {
		j.logger.Info("jobs janitor purged", "count", n)
	}
}

// Stop stops the scheduler and waits for a running purge to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
