package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/store"
)

// Retention periodically deletes dispatched outbox records and consumer
// dedup fences older than the retention window.
type Retention struct {
	db       *store.DB
	schedule string
	window   time.Duration
	options
}

// PurgeStats reports one retention pass.
type PurgeStats struct {
	Outbox   int64
	Consumed int64
}

// NewRetention builds the job from cfg.RetentionSchedule and
// cfg.RetentionWindow.
func NewRetention(db *store.DB, cfg Config, opts ...Option) (*Retention, error) {
	if db == nil {
		return nil, errors.New("outbox: retention requires a store")
	}
	if cfg.RetentionWindow <= 0 {
		return nil, errors.New("outbox: RetentionWindow must be > 0")
	}
	if _, err := cron.ParseStandard(cfg.RetentionSchedule); err != nil {
		return nil, fmt.Errorf("outbox: invalid retention schedule %q: %w", cfg.RetentionSchedule, err)
	}
	return &Retention{
		db:       db,
		schedule: cfg.RetentionSchedule,
		window:   cfg.RetentionWindow,
		options:  buildOptions(opts),
	}, nil
}

// Purge deletes everything older than now minus the window.
func (r *Retention) Purge(ctx context.Context) (PurgeStats, error) {
	cutoff := r.now().Add(-r.window)

	var s PurgeStats
	n, err := r.db.PurgeDispatched(ctx, cutoff)
	if err != nil {
		return s, fmt.Errorf("outbox: purge dispatched: %w", err)
	}
	s.Outbox = n

	n, err = r.db.PurgeConsumed(ctx, cutoff)
	if err != nil {
		return s, fmt.Errorf("outbox: purge consumed: %w", err)
	}
	s.Consumed = n

	r.metrics.Add(metrics.OutboxPurged, uint64(s.Outbox))
	r.metrics.Add(metrics.ConsumedPurged, uint64(s.Consumed))
	return s, nil
}

// Run schedules Purge until ctx is done, then waits for a running pass to
// finish.
func (r *Retention) Run(ctx context.Context) error {
	logger := cron.PrintfLogger(r.log)
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	_, err := c.AddFunc(r.schedule, func() {
		s, err := r.Purge(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.log.WithError(err).Warn("retention pass failed")
			}
			return
		}
		r.log.WithField("outbox", s.Outbox).WithField("consumed", s.Consumed).Info("retention pass complete")
	})
	if err != nil {
		return fmt.Errorf("outbox: schedule retention: %w", err)
	}

	c.Start()
	r.log.WithField("schedule", r.schedule).Info("retention scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	r.log.Info("retention scheduler stopped")
	return nil
}
