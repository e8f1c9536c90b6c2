package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/goIdentity/broker"
	"github.com/MrEthical07/goIdentity/event"
	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/store"
)

const maxLastErrorLen = 512

// Stats summarises one dispatch cycle.
type Stats struct {
	Dispatched int
	Failed     int
	Flagged    int
	// Deferred counts tenants whose head record was not yet due.
	Deferred int
}

func (s *Stats) add(o Stats) {
	s.Dispatched += o.Dispatched
	s.Failed += o.Failed
	s.Flagged += o.Flagged
	s.Deferred += o.Deferred
}

// Option configures a Dispatcher or Retention.
type Option func(*options)

type options struct {
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Discard()
	}
	return o
}

// Dispatcher relays committed outbox records to the broker.
//
// Records of one tenant are published in append order; a tenant's queue stops
// for the cycle at its first record that is not yet due or fails to publish.
// A flagged record stops its tenant's queue until an operator requeues it.
// dispatched_at is written only after the broker acknowledged.
type Dispatcher struct {
	db    *store.DB
	pub   broker.Publisher
	codec event.Codec
	cfg   Config
	options

	cycle  sync.Mutex
	notify chan struct{}
}

// NewDispatcher validates cfg and returns a dispatcher.
func NewDispatcher(db *store.DB, pub broker.Publisher, cfg Config, opts ...Option) (*Dispatcher, error) {
	if db == nil || pub == nil {
		return nil, errors.New("outbox: dispatcher requires a store and a publisher")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := event.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		db:      db,
		pub:     pub,
		codec:   codec,
		cfg:     cfg,
		options: buildOptions(opts),
		notify:  make(chan struct{}, 1),
	}, nil
}

// Notify asks Run to start a cycle now. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Run dispatches on every Interval tick and on Notify until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.log.WithField("interval", d.cfg.Interval).Info("outbox dispatcher started")
	defer d.log.Info("outbox dispatcher stopped")

	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.WithError(err).Warn("outbox dispatch cycle failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.notify:
		}
	}
}

// RunOnce performs one dispatch cycle. Cycles of the same dispatcher never
// overlap.
func (d *Dispatcher) RunOnce(ctx context.Context) (Stats, error) {
	d.cycle.Lock()
	defer d.cycle.Unlock()

	pending, err := d.db.PendingOutbox(ctx, d.cfg.BatchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("outbox: load pending: %w", err)
	}
	if len(pending) == 0 {
		return Stats{}, nil
	}

	var (
		order    []string
		byTenant = make(map[string][]*store.OutboxRecord)
	)
	for _, rec := range pending {
		if _, ok := byTenant[rec.TenantID]; !ok {
			order = append(order, rec.TenantID)
		}
		byTenant[rec.TenantID] = append(byTenant[rec.TenantID], rec)
	}

	var (
		mu    sync.Mutex
		total Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.TenantConcurrency)
	for _, tenantID := range order {
		queue := byTenant[tenantID]
		g.Go(func() error {
			s, err := d.drainTenant(gctx, queue)
			mu.Lock()
			total.add(s)
			mu.Unlock()
			return err
		})
	}
	err = g.Wait()
	return total, err
}

func (d *Dispatcher) drainTenant(ctx context.Context, queue []*store.OutboxRecord) (Stats, error) {
	var s Stats
	for _, rec := range queue {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		if rec.NextAttemptAt.After(d.now()) {
			s.Deferred++
			return s, nil
		}

		flagged, err := d.dispatch(ctx, rec)
		if err == nil {
			s.Dispatched++
			continue
		}
		if errors.Is(err, errRecordStore) || ctx.Err() != nil {
			return s, err
		}
		s.Failed++
		if flagged {
			s.Flagged++
		}
		return s, nil
	}
	return s, nil
}

// errRecordStore marks a failure to persist dispatch state. It aborts the
// cycle.
var errRecordStore = errors.New("outbox: record dispatch state")

func (d *Dispatcher) dispatch(ctx context.Context, rec *store.OutboxRecord) (flagged bool, err error) {
	attempt := rec.AttemptCount + 1
	log := d.log.WithFields(logrus.Fields{
		"tenant_id":  rec.TenantID,
		"event_id":   rec.EventID,
		"event_type": rec.EventType,
		"attempt":    attempt,
	})

	body, encErr := d.codec.Encode(event.Envelope{
		EventID:       rec.EventID,
		EventType:     rec.EventType,
		TenantID:      rec.TenantID,
		OccurredAt:    rec.CreatedAt,
		SourceService: d.cfg.SourceService,
		SchemaVersion: event.SchemaVersion,
		Payload:       rec.Payload,
	})
	if encErr != nil {
		// Retrying cannot fix an unencodable record.
		return true, d.fail(ctx, rec, attempt, encErr, true, log)
	}

	pctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	start := time.Now()
	pubErr := d.pub.Publish(pctx, broker.Message{
		Key:       rec.TenantID,
		EventID:   rec.EventID,
		EventType: rec.EventType,
		Body:      body,
	})
	cancel()
	d.metrics.Observe(metrics.PublishLatency, time.Since(start))

	if pubErr != nil {
		if err := ctx.Err(); err != nil {
			// Shutdown interrupted the publish; the attempt does not count.
			log.WithError(pubErr).Debug("outbox publish interrupted")
			return false, err
		}
		flag := attempt >= d.cfg.MaxAttempts
		return flag, d.fail(ctx, rec, attempt, pubErr, flag, log)
	}

	// The broker has the message; record that even if ctx was cancelled
	// meanwhile, or the record is published twice.
	mctx, mcancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PublishTimeout)
	defer mcancel()
	marked, err := d.db.MarkDispatched(mctx, rec.EventID, attempt, d.now())
	if err != nil {
		log.WithError(err).Error("outbox record published but not marked; it will be published again")
		return false, fmt.Errorf("%w: %v", errRecordStore, err)
	}
	if !marked {
		log.Warn("outbox record was already marked dispatched")
	}
	d.metrics.Inc(metrics.OutboxDispatched)
	log.Debug("outbox record dispatched")
	return false, nil
}

func (d *Dispatcher) fail(ctx context.Context, rec *store.OutboxRecord, attempt int, cause error, flag bool, log logrus.FieldLogger) error {
	now := d.now()
	next := now.Add(Backoff(d.cfg.BaseBackoff, d.cfg.MaxBackoff, attempt))

	msg := cause.Error()
	if len(msg) > maxLastErrorLen {
		msg = msg[:maxLastErrorLen]
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PublishTimeout)
	defer cancel()
	if err := d.db.RecordAttemptFailure(fctx, rec.EventID, attempt, next, msg, flag, now); err != nil {
		log.WithError(err).Error("failed to record outbox attempt")
		return fmt.Errorf("%w: %v", errRecordStore, err)
	}

	if flag {
		d.metrics.Inc(metrics.OutboxFlagged)
		log.WithError(cause).Error("outbox record flagged; tenant queue stopped until it is requeued")
	} else {
		d.metrics.Inc(metrics.OutboxRetried)
		log.WithError(cause).WithField("next_attempt_at", next).Warn("outbox publish failed; will retry")
	}
	return cause
}

// Flagged lists records parked after exhausting their attempts. Each one
// holds back the later records of its tenant.
func (d *Dispatcher) Flagged(ctx context.Context, limit int) ([]*store.OutboxRecord, error) {
	return d.db.FlaggedOutbox(ctx, limit)
}

// Requeue returns a flagged record to the queue with a fresh attempt budget.
// It reports false when eventID is not flagged.
func (d *Dispatcher) Requeue(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.db.RequeueFlagged(ctx, eventID, d.now())
	if err == nil && ok {
		d.log.WithField("event_id", eventID).Info("flagged outbox record requeued")
		d.Notify()
	}
	return ok, err
}
