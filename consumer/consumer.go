package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/goIdentity/broker"
	"github.com/MrEthical07/goIdentity/event"
	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/store"
	"github.com/MrEthical07/goIdentity/tenant"
)

// Outcome classifies one handled message.
type Outcome int

const (
	Failed Outcome = iota
	Applied
	Duplicate
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Ignored:
		return "ignored"
	default:
		return "failed"
	}
}

// Result is the outcome of Handle. Retryable is meaningful only for Failed.
type Result struct {
	Outcome   Outcome
	Retryable bool
	Err       error
}

// HandlerFunc applies one event inside the consumer's transaction. Writes
// through tx commit atomically with the dedup fence.
type HandlerFunc func(ctx context.Context, tx *store.Tx, tc tenant.Context, env event.Envelope) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. The message is dead-lettered.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent or is an invalid
// envelope.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || errors.Is(err, event.ErrInvalidEnvelope)
}

// Config tunes a consumer.
type Config struct {
	// Name identifies the consumer in the dedup fence. Two consumers with
	// different names each apply every event once.
	Name          string        `yaml:"name"`
	Codec         string        `yaml:"codec"`
	BatchSize     int           `yaml:"batch_size"`
	HandleTimeout time.Duration `yaml:"handle_timeout"`
	IdleWait      time.Duration `yaml:"idle_wait"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Name:          "directory",
		Codec:         "json",
		BatchSize:     32,
		HandleTimeout: 10 * time.Second,
		IdleWait:      500 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("consumer: Name is required")
	}
	if _, err := event.CodecByName(c.Codec); err != nil {
		return err
	}
	if c.BatchSize <= 0 {
		return errors.New("consumer: BatchSize must be > 0")
	}
	if c.HandleTimeout <= 0 {
		return errors.New("consumer: HandleTimeout must be > 0")
	}
	if c.IdleWait <= 0 {
		return errors.New("consumer: IdleWait must be > 0")
	}
	return nil
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Consumer) { c.log = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

// WithClock replaces time.Now for consumed_at stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Consumer) { c.now = now }
}

// Consumer applies integration events exactly once in effect.
type Consumer struct {
	db      *store.DB
	cfg     Config
	codec   event.Codec
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// New returns a consumer without handlers. Unregistered event types are
// acknowledged as Ignored.
func New(db *store.DB, cfg Config, opts ...Option) (*Consumer, error) {
	if db == nil {
		return nil, errors.New("consumer: store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := event.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	c := &Consumer{
		db:       db,
		cfg:      cfg,
		codec:    codec,
		now:      time.Now,
		handlers: make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.Discard()
	}
	c.log = c.log.WithField("consumer", cfg.Name)
	return c, nil
}

// Register binds h to eventType, replacing any previous handler.
func (c *Consumer) Register(eventType string, h HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = h
}

func (c *Consumer) handler(eventType string) (HandlerFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[eventType]
	return h, ok
}

var errDuplicate = errors.New("consumer: duplicate")

// Handle decodes msg and applies it. The dedup fence and the handler's writes
// commit in one transaction; a fence that already exists yields Duplicate
// with no effect.
func (c *Consumer) Handle(ctx context.Context, msg broker.Message) Result {
	res := c.handle(ctx, msg)
	c.observe(res)
	return res
}

func (c *Consumer) handle(ctx context.Context, msg broker.Message) Result {
	env, err := c.codec.Decode(msg.Body)
	if err != nil {
		return Result{Outcome: Failed, Err: err}
	}
	tc, err := tenant.New(tenant.ID(env.TenantID))
	if err != nil {
		return Result{Outcome: Failed, Err: Permanent(err)}
	}

	h, known := c.handler(env.EventType)
	outcome := Applied
	err = c.db.WithTx(ctx, func(tx *store.Tx) error {
		fresh, err := tx.ReserveEvent(ctx, c.cfg.Name, env.EventID, env.TenantID, c.now())
		if err != nil {
			return fmt.Errorf("reserve %s: %w", env.EventID, err)
		}
		if !fresh {
			return errDuplicate
		}
		if !known {
			outcome = Ignored
			return nil
		}
		return h(ctx, tx, tc, env)
	})

	switch {
	case errors.Is(err, errDuplicate):
		return Result{Outcome: Duplicate}
	case err != nil:
		return Result{Outcome: Failed, Retryable: !IsPermanent(err), Err: err}
	default:
		return Result{Outcome: outcome}
	}
}

func (c *Consumer) observe(res Result) {
	switch res.Outcome {
	case Applied:
		c.metrics.Inc(metrics.ConsumerApplied)
	case Duplicate:
		c.metrics.Inc(metrics.ConsumerDuplicate)
	case Ignored:
		c.metrics.Inc(metrics.ConsumerIgnored)
	case Failed:
		if res.Retryable {
			c.metrics.Inc(metrics.ConsumerRetried)
		} else {
			c.metrics.Inc(metrics.ConsumerDeadLettered)
		}
	}
}

// Run receives from sub until ctx is done. Each delivery is handled under
// HandleTimeout and then acknowledged, negatively acknowledged or
// dead-lettered according to its Result.
func (c *Consumer) Run(ctx context.Context, sub broker.Subscriber) error {
	c.log.Info("consumer started")
	defer c.log.Info("consumer stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		deliveries, err := sub.Receive(ctx, c.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, broker.ErrClosed) {
				return err
			}
			c.log.WithError(err).Warn("receive failed")
		}
		if len(deliveries) == 0 {
			if !c.wait(ctx) {
				return nil
			}
			continue
		}

		for _, d := range deliveries {
			c.process(ctx, sub, d)
		}
	}
}

func (c *Consumer) wait(ctx context.Context) bool {
	t := time.NewTimer(c.cfg.IdleWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) process(ctx context.Context, sub broker.Subscriber, d broker.Delivery) {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandleTimeout)
	res := c.Handle(hctx, d.Message)
	cancel()

	log := c.log.WithFields(logrus.Fields{
		"event_id":    d.EventID,
		"event_type":  d.EventType,
		"tenant_id":   d.Key,
		"outcome":     res.Outcome.String(),
		"redelivered": d.Redelivered,
	})

	// Settle even when ctx is done so a handled delivery is not redelivered.
	sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.HandleTimeout)
	defer scancel()

	var err error
	switch {
	case res.Outcome != Failed:
		err = sub.Ack(sctx, d)
		log.Debug("event handled")
	case res.Retryable:
		err = sub.Nack(sctx, d)
		log.WithError(res.Err).Warn("event handling failed; will be redelivered")
	default:
		err = sub.DeadLetter(sctx, d, res.Err.Error())
		log.WithError(res.Err).Error("event dead-lettered")
	}
	if err != nil {
		log.WithError(err).Warn("failed to settle delivery")
	}
}
