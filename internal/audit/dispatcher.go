package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/goIdentity/internal/logging"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// dropLogEvery throttles the drop warning per tenant.
const dropLogEvery = 100

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger receives drop warnings and sink panics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// Dispatcher hands events to a sink on one worker goroutine, keeping slow
// sinks off the login path. With DropIfFull a full buffer drops the event and
// counts it against the event's tenant; otherwise Emit blocks until there is
// room or ctx is done.
type Dispatcher struct {
	cfg  Config
	sink Sink
	log  logrus.FieldLogger

	ch        chan Event
	done      chan struct{}
	stopped   chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	dropped    atomic.Uint64
	sinkFailed atomic.Uint64
	byTenant   sync.Map // tenant id -> *atomic.Uint64
}

// NewDispatcher returns nil when auditing is disabled. A nil Dispatcher
// accepts and discards every call.
func NewDispatcher(cfg Config, sink Sink, opts ...Option) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		ch:      make(chan Event, cfg.BufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logging.Discard()
	}

	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver shields the worker from a panicking sink.
func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.sinkFailed.Add(1)
			d.log.WithFields(logrus.Fields{
				"audit":     event.EventType,
				"tenant_id": event.TenantID,
			}).Error(fmt.Sprintf("audit sink panicked: %v", r))
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event for the sink.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.drop(event)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	v, _ := d.byTenant.LoadOrStore(event.TenantID, new(atomic.Uint64))
	n := v.(*atomic.Uint64).Add(1)
	if n == 1 || n%dropLogEvery == 0 {
		d.log.WithFields(logrus.Fields{
			"tenant_id": event.TenantID,
			"audit":     event.EventType,
			"dropped":   n,
		}).Warn("audit buffer full; events dropped")
	}
}

// Close stops accepting events, flushes the buffer to the sink and waits for
// the worker. It is idempotent.
func (d *Dispatcher) Close() {
	_ = d.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx. Events still buffered when ctx ends are
// left to the worker, which keeps draining in the background.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
	})
	select {
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit: drain interrupted with %d events buffered: %w", len(d.ch), ctx.Err())
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedFor reports the drops attributed to tenantID. Events without a
// tenant, such as failed logins against an empty tenant id, count under "".
func (d *Dispatcher) DroppedFor(tenantID string) uint64 {
	if d == nil {
		return 0
	}
	v, ok := d.byTenant.Load(tenantID)
	if !ok {
		return 0
	}
	return v.(*atomic.Uint64).Load()
}

// SinkFailures reports deliveries lost to a panicking sink.
func (d *Dispatcher) SinkFailures() uint64 {
	if d == nil {
		return 0
	}
	return d.sinkFailed.Load()
}
