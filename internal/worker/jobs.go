package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	jobReleaseDelayed = "release-delayed-notifications"
	jobExpireDue      = "expire-due-jobs"
)

// scheduleJobs registers the release and expiry jobs on the scheduler. An
// empty spec leaves that job off.
func (w *Worker) scheduleJobs(ctx context.Context) error {
	if w.releaser != nil && w.releaseSchedule != "" {
		if _, err := w.scheduler.AddFunc(w.releaseSchedule, func() {
			_, _ = w.runJob(ctx, jobReleaseDelayed, w.releaser.Release)
		}); err != nil {
			return fmt.Errorf("invalid release schedule %q: %w", w.releaseSchedule, err)
		}
		w.logger.Info("Scheduled job registered",
			slog.String("job", jobReleaseDelayed),
			slog.String("schedule", w.releaseSchedule),
		)
	}

	if w.sweeper != nil && w.expirySchedule != "" {
		if _, err := w.scheduler.AddFunc(w.expirySchedule, func() {
			_, _ = w.runJob(ctx, jobExpireDue, w.sweeper.ExpireDue)
		}); err != nil {
			return fmt.Errorf("invalid expiry schedule %q: %w", w.expirySchedule, err)
		}
		w.logger.Info("Scheduled job registered",
			slog.String("job", jobExpireDue),
			slog.String("schedule", w.expirySchedule),
		)
	}
	return nil
}

// runJob runs fn under the job timeout. Overlapping ticks of the same job
// share the run already in flight instead of starting another.
func (w *Worker) runJob(ctx context.Context, name string, fn func(context.Context) (int, error)) (int, error) {
	v, err, shared := w.jobs.Do(name, func() (any, error) {
		jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()

		start := time.Now()
		n, err := fn(jobCtx)
		if err != nil {
			w.logger.Error("Scheduled job failed",
				slog.String("job", name),
				slog.Int("processed", n),
				slog.Any("error", err),
			)
			return n, err
		}
		w.logger.Info("Scheduled job finished",
			slog.String("job", name),
			slog.Int("processed", n),
			slog.Duration("took", time.Since(start)),
		)
		return n, nil
	})
	if shared {
		w.logger.Debug("Scheduled job already running",
			slog.String("job", name),
		)
	}
	n, _ := v.(int)
	return n, err
}
