package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goIdentity/broker"
	"github.com/MrEthical07/goIdentity/event"
	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/outbox"
	"github.com/MrEthical07/goIdentity/store"
	"github.com/MrEthical07/goIdentity/tenant"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IdleWait = 5 * time.Millisecond
	cfg.HandleTimeout = time.Second
	return cfg
}

func newConsumer(t *testing.T, db *store.DB, m *metrics.Metrics) *Consumer {
	t.Helper()
	c, err := New(db, testConfig(), WithMetrics(m))
	require.NoError(t, err)
	RegisterDirectory(c)
	return c
}

func message(t *testing.T, eventID, tenantID, eventType string, payload any) broker.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := event.JSON{}.Encode(event.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		TenantID:      tenantID,
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SchemaVersion: event.SchemaVersion,
		Payload:       raw,
	})
	require.NoError(t, err)
	return broker.Message{Key: tenantID, EventID: eventID, EventType: eventType, Body: body}
}

func created(t *testing.T, eventID, tenantID, principalID string) broker.Message {
	return message(t, eventID, tenantID, event.TypePrincipalCreated,
		event.PrincipalCreated{PrincipalID: principalID, DisplayName: "Alice", Email: "alice@example.com"})
}

func assigned(t *testing.T, eventID, tenantID, principalID, role string) broker.Message {
	return message(t, eventID, tenantID, event.TypePrincipalRoleAssigned,
		event.PrincipalRoleAssigned{PrincipalID: principalID, RoleID: "r-" + role, RoleName: role})
}

func revoked(t *testing.T, eventID, tenantID, principalID, role string) broker.Message {
	return message(t, eventID, tenantID, event.TypePrincipalRoleRevoked,
		event.PrincipalRoleRevoked{PrincipalID: principalID, RoleID: "r-" + role, RoleName: role})
}

func directoryEntry(t *testing.T, db *store.DB, tenantID, principalID string) (*store.DirectoryEntry, error) {
	t.Helper()
	tc, err := tenant.New(tenant.ID(tenantID))
	require.NoError(t, err)
	return db.Scoped(tc).DirectoryEntry(context.Background(), principalID)
}

func TestHandleIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := store.OpenTestDB(t)
	m := metrics.New(metrics.Config{Enabled: true})
	c := newConsumer(t, db, m)

	assert.Equal(t, Result{Outcome: Applied}, c.Handle(ctx, created(t, "e1", "T1", "p1")))
	assert.Equal(t, Result{Outcome: Applied}, c.Handle(ctx, assigned(t, "e2", "T1", "p1", "Manager")))

	// Redelivery of both events changes nothing.
	assert.Equal(t, Result{Outcome: Duplicate}, c.Handle(ctx, created(t, "e1", "T1", "p1")))
	assert.Equal(t, Result{Outcome: Duplicate}, c.Handle(ctx, assigned(t, "e2", "T1", "p1", "Manager")))

	e, err := directoryEntry(t, db, "T1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", e.DisplayName)
	assert.Equal(t, "Manager", e.Roles)

	_, err = directoryEntry(t, db, "T2", "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.EqualValues(t, 2, m.Value(metrics.ConsumerApplied))
	assert.EqualValues(t, 2, m.Value(metrics.ConsumerDuplicate))
}

func TestRoleRevokedUpdatesDirectory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := store.OpenTestDB(t)
	c := newConsumer(t, db, nil)

	assert.Equal(t, Applied, c.Handle(ctx, created(t, "e1", "T1", "p1")).Outcome)
	assert.Equal(t, Applied, c.Handle(ctx, assigned(t, "e2", "T1", "p1", "Manager")).Outcome)
	assert.Equal(t, Applied, c.Handle(ctx, assigned(t, "e3", "T1", "p1", "Analyst")).Outcome)
	assert.Equal(t, Applied, c.Handle(ctx, revoked(t, "e4", "T1", "p1", "Manager")).Outcome)
	assert.Equal(t, Duplicate, c.Handle(ctx, revoked(t, "e4", "T1", "p1", "Manager")).Outcome)

	e, err := directoryEntry(t, db, "T1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Analyst", e.Roles)

	// Revoking a role the entry does not list changes nothing.
	assert.Equal(t, Applied, c.Handle(ctx, revoked(t, "e5", "T1", "p1", "Owner")).Outcome)
	e, err = directoryEntry(t, db, "T1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Analyst", e.Roles)

	bad := message(t, "e6", "T1", event.TypePrincipalRoleRevoked, event.PrincipalRoleRevoked{PrincipalID: "p1"})
	res := c.Handle(ctx, bad)
	assert.Equal(t, Failed, res.Outcome)
	assert.False(t, res.Retryable)
}

func TestDuplicateFenceIsPerConsumer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := store.OpenTestDB(t)

	directory := newConsumer(t, db, nil)
	cfg := testConfig()
	cfg.Name = "audit"
	audit, err := New(db, cfg)
	require.NoError(t, err)

	msg := created(t, "e1", "T1", "p1")
	assert.Equal(t, Applied, directory.Handle(ctx, msg).Outcome)
	assert.Equal(t, Ignored, audit.Handle(ctx, msg).Outcome)
	assert.Equal(t, Duplicate, audit.Handle(ctx, msg).Outcome)
}

func TestUnknownEventTypeIsIgnoredAndFenced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := store.OpenTestDB(t)
	c := newConsumer(t, db, nil)

	msg := message(t, "e9", "T1", "invoice.paid", map[string]string{"invoice": "42"})
	assert.Equal(t, Result{Outcome: Ignored}, c.Handle(ctx, msg))

	consumed, err := db.Consumed(ctx, "directory", "e9")
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Equal(t, Duplicate, c.Handle(ctx, msg).Outcome)
}

func TestHandleClassifiesFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := store.OpenTestDB(t)
	c := newConsumer(t, db, nil)

	transient := errors.New("downstream busy")
	c.Register("test.transient", func(context.Context, *store.Tx, tenant.Context, event.Envelope) error {
		return transient
	})
	c.Register("test.permanent", func(context.Context, *store.Tx, tenant.Context, event.Envelope) error {
		return Permanent(errors.New("cannot apply"))
	})

	tests := []struct {
		name      string
		msg       broker.Message
		retryable bool
	}{
		{name: "garbage body", msg: broker.Message{EventID: "x", Body: []byte("not an envelope")}},
		{name: "missing tenant", msg: broker.Message{Body: []byte(`{"event_id":"e","event_type":"x","occurred_at":"2026-03-01T12:00:00Z","schema_version":1,"payload":{}}`)}},
		{name: "bad payload", msg: message(t, "e3", "T1", event.TypePrincipalCreated, "a string")},
		{name: "empty principal", msg: created(t, "e4", "T1", "")},
		{name: "permanent handler error", msg: message(t, "e5", "T1", "test.permanent", map[string]int{})},
		{name: "transient handler error", msg: message(t, "e6", "T1", "test.transient", map[string]int{}), retryable: true},
		{name: "role before principal", msg: assigned(t, "e7", "T1", "ghost", "Manager"), retryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Handle(ctx, tt.msg)
			assert.Equal(t, Failed, res.Outcome)
			assert.Equal(t, tt.retryable, res.Retryable)
			assert.Error(t, res.Err)
		})
	}

	// A failed handler rolls the fence back, so a redelivery is applied.
	consumed, err := db.Consumed(ctx, "directory", "e7")
	require.NoError(t, err)
	assert.False(t, consumed)

	require.Equal(t, Applied, c.Handle(ctx, created(t, "e8", "T1", "ghost")).Outcome)
	assert.Equal(t, Applied, c.Handle(ctx, assigned(t, "e7", "T1", "ghost", "Manager")).Outcome)
}

func TestRunSettlesDeliveries(t *testing.T) {
	t.Parallel()
	db := store.OpenTestDB(t)
	mem := broker.NewMemory()
	c := newConsumer(t, db, nil)

	var calls atomic.Int32
	c.Register("test.flaky", func(context.Context, *store.Tx, tenant.Context, event.Envelope) error {
		if calls.Add(1) == 1 {
			return errors.New("first attempt fails")
		}
		return nil
	})

	ctx := context.Background()
	require.NoError(t, mem.Publish(ctx, created(t, "e1", "T1", "p1")))
	require.NoError(t, mem.Publish(ctx, broker.Message{Key: "T1", EventID: "bad", Body: []byte("{")}))
	require.NoError(t, mem.Publish(ctx, message(t, "e3", "T1", "test.flaky", map[string]int{})))
	mem.Redeliver(created(t, "e1", "T1", "p1"))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx, mem) }()

	require.Eventually(t, func() bool { return mem.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	dead := mem.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "bad", dead[0].Delivery.EventID)
	assert.Contains(t, dead[0].Reason, "invalid event envelope")
	assert.EqualValues(t, 2, calls.Load())

	_, err := directoryEntry(t, db, "T1", "p1")
	require.NoError(t, err)
}

func TestRunReturnsWhenBrokerClosed(t *testing.T) {
	t.Parallel()
	db := store.OpenTestDB(t)
	mem := broker.NewMemory()
	require.NoError(t, mem.Close())

	err := newConsumer(t, db, nil).Run(context.Background(), mem)
	assert.ErrorIs(t, err, broker.ErrClosed)
}

// Outbox to consumer across a crash window: the dispatcher publishes, the
// broker loses the ack and redelivers, and the effect still happens once.
func TestOutboxToConsumerExactlyOnceInEffect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := store.OpenTestDB(t)
	mem := broker.NewMemory()
	c := newConsumer(t, db, nil)

	tc, err := tenant.New("T1")
	require.NoError(t, err)
	require.NoError(t, db.WithTx(ctx, func(tx *store.Tx) error {
		_, err := outbox.Append(ctx, tx, tc, event.TypePrincipalCreated,
			event.PrincipalCreated{PrincipalID: "p1", DisplayName: "Alice", Email: "alice@example.com"})
		if err != nil {
			return err
		}
		_, err = outbox.Append(ctx, tx, tc, event.TypePrincipalRoleAssigned,
			event.PrincipalRoleAssigned{PrincipalID: "p1", RoleID: "r1", RoleName: "Analyst"})
		return err
	}))

	cfg := outbox.DefaultConfig()
	cfg.TenantConcurrency = 1
	d, err := outbox.NewDispatcher(db, mem, cfg, outbox.WithClock(func() time.Time { return time.Now().Add(time.Minute) }))
	require.NoError(t, err)
	s, err := d.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, s.Dispatched)

	for _, msg := range mem.Published() {
		mem.Redeliver(msg)
	}

	var outcomes []Outcome
	for {
		deliveries, err := mem.Receive(ctx, 10)
		require.NoError(t, err)
		if len(deliveries) == 0 {
			break
		}
		for _, dl := range deliveries {
			outcomes = append(outcomes, c.Handle(ctx, dl.Message).Outcome)
			require.NoError(t, mem.Ack(ctx, dl))
		}
	}
	assert.Equal(t, []Outcome{Applied, Applied, Duplicate, Duplicate}, outcomes)

	e, err := directoryEntry(t, db, "T1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Analyst", e.Roles)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultConfig().Validate())

	for name, mutate := range map[string]func(*Config){
		"name":    func(c *Config) { c.Name = " " },
		"codec":   func(c *Config) { c.Codec = "yaml" },
		"batch":   func(c *Config) { c.BatchSize = 0 },
		"timeout": func(c *Config) { c.HandleTimeout = 0 },
		"idle":    func(c *Config) { c.IdleWait = 0 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}

	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "applied", Applied.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "ignored", Ignored.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Nil(t, Permanent(nil))
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.False(t, IsPermanent(errors.New("x")))
}
