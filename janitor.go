package quizapp

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
)

// StaleSweeper abandons attempts left in GENERATING
type StaleSweeper interface {
	AbandonStaleGenerating(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor periodically abandons attempts whose generation was never requested or never
// finished, so none stays in GENERATING for good
type Janitor struct {
	store     StaleSweeper
	maxAge    time.Duration
	now       func() time.Time
	scheduler *gocron.Scheduler
}

// NewJanitor creates a janitor abandoning GENERATING attempts older than maxAge
func NewJanitor(store StaleSweeper, maxAge time.Duration) *Janitor {
	return &Janitor{
		store:     store,
		maxAge:    maxAge,
		now:       func() time.Time { return time.Now().UTC() },
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Sweep runs one pass and returns the number of attempts abandoned
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	n, err := j.store.AbandonStaleGenerating(ctx, j.now().Add(-j.maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Infow("abandoned stale attempts", "count", n, "max_age", j.maxAge.String())
	}
	return n, nil
}

// Start schedules Sweep every interval without blocking
func (j *Janitor) Start(interval time.Duration) error {
	_, err := j.scheduler.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := j.Sweep(ctx); err != nil {
			logger.Errorw("stale attempt sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	j.scheduler.StartAsync()
	return nil
}

// Stop terminates the scheduled sweeps
func (j *Janitor) Stop() {
	j.scheduler.Stop()
}
