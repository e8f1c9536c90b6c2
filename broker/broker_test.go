package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id string) Message {
	return Message{Key: "T1", EventID: id, EventType: "principal.created", Body: []byte(`{"id":"` + id + `"}`)}
}

func TestMemoryFailNext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	m.FailNext(2, nil)

	require.ErrorIs(t, m.Publish(ctx, msg("e1")), ErrUnavailable)
	require.ErrorIs(t, m.Publish(ctx, msg("e1")), ErrUnavailable)
	require.NoError(t, m.Publish(ctx, msg("e1")))

	custom := errors.New("boom")
	m.FailNext(1, custom)
	require.ErrorIs(t, m.Publish(ctx, msg("e2")), custom)

	published := m.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "e1", published[0].EventID)
}

func TestMemoryNackRedelivers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Publish(ctx, msg("e1")))
	require.NoError(t, m.Publish(ctx, msg("e2")))

	first, err := m.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.False(t, first[0].Redelivered)

	none, err := m.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none, "in-flight deliveries are not handed out twice")

	require.NoError(t, m.Ack(ctx, first[1]))
	require.NoError(t, m.Nack(ctx, first[0]))

	again, err := m.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "e1", again[0].EventID)
	assert.True(t, again[0].Redelivered)

	require.NoError(t, m.DeadLetter(ctx, again[0], "bad payload"))
	assert.Equal(t, 0, m.Pending())
	dead := m.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "bad payload", dead[0].Reason)
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Publish(context.Background(), msg("e1")), ErrClosed)
	_, err := m.Receive(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func newRedisStreams(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RedisStreams) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rs, err := NewRedisStreams(client, RedisStreamsConfig{
		Stream:      "identity.events",
		Group:       "directory",
		Consumer:    "c1",
		ReclaimIdle: 30 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, rs.EnsureGroup(context.Background()))
	require.NoError(t, rs.EnsureGroup(context.Background()), "existing group is not an error")
	return mr, client, rs
}

func TestRedisStreamsPublishReceiveAck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client, rs := newRedisStreams(t)

	require.NoError(t, rs.Publish(ctx, msg("e1")))
	require.NoError(t, rs.Publish(ctx, msg("e2")))

	got, err := rs.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].EventID)
	assert.Equal(t, "T1", got[0].Key)
	assert.Equal(t, `{"id":"e1"}`, string(got[0].Body))
	assert.False(t, got[0].Redelivered)

	for _, d := range got {
		require.NoError(t, rs.Ack(ctx, d))
	}

	pending, err := client.XPending(ctx, "identity.events", "directory").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)

	empty, err := rs.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisStreamsReclaimsNackedEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, _, rs := newRedisStreams(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mr.SetTime(base)

	require.NoError(t, rs.Publish(ctx, msg("e1")))
	got, err := rs.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, rs.Nack(ctx, got[0]))

	none, err := rs.Receive(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, none, "entry is not reclaimed before ReclaimIdle")

	mr.SetTime(base.Add(time.Minute))
	again, err := rs.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, got[0].ID, again[0].ID)
	assert.True(t, again[0].Redelivered)
}

func TestRedisStreamsDeadLetter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client, rs := newRedisStreams(t)

	require.NoError(t, rs.Publish(ctx, msg("e1")))
	got, err := rs.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, rs.DeadLetter(ctx, got[0], "schema"))

	dlq, err := client.XRange(ctx, "identity.events:dlq", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	assert.Equal(t, "schema", dlq[0].Values["reason"])
	assert.Equal(t, "e1", dlq[0].Values["event_id"])

	pending, err := client.XPending(ctx, "identity.events", "directory").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestRedisStreamsPublishFailsWhenDown(t *testing.T) {
	t.Parallel()
	mr, _, rs := newRedisStreams(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.ErrorIs(t, rs.Publish(ctx, msg("e1")), ErrUnavailable)
}

func TestNewRedisStreamsValidation(t *testing.T) {
	t.Parallel()
	_, err := NewRedisStreams(nil, RedisStreamsConfig{Stream: "s"})
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	_, err = NewRedisStreams(client, RedisStreamsConfig{})
	assert.Error(t, err)

	rs, err := NewRedisStreams(client, RedisStreamsConfig{Stream: "s"})
	require.NoError(t, err)
	assert.Equal(t, "s:dlq", rs.Config().DeadLetterStream)
}

func TestDial(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	client, err := Dial(context.Background(), "redis://"+mr.Addr(), 3)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = Dial(context.Background(), "not a url", 1)
	assert.Error(t, err)
}
