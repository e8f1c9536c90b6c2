package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// Stream entry fields.
const (
	fieldEventID   = "event_id"
	fieldEventType = "event_type"
	fieldKey       = "key"
	fieldBody      = "body"
	fieldReason    = "reason"
	fieldOrigin    = "origin_id"
)

// RedisStreamsConfig configures a [RedisStreams] broker.
type RedisStreamsConfig struct {
	Stream   string
	Group    string
	Consumer string
	// DeadLetterStream defaults to Stream + ":dlq".
	DeadLetterStream string
	// MaxLen approximately trims the stream on publish. Zero disables trimming.
	MaxLen int64
	// Block is how long Receive waits for new entries. Zero means no wait.
	Block time.Duration
	// ReclaimIdle is how long an unacknowledged entry stays pending before
	// Receive hands it out again.
	ReclaimIdle time.Duration
}

// RedisStreams is a broker on top of a Redis stream and one consumer group.
type RedisStreams struct {
	client redis.UniversalClient
	cfg    RedisStreamsConfig
}

// NewRedisStreams validates cfg and returns the broker. Call EnsureGroup
// before the first Receive.
func NewRedisStreams(client redis.UniversalClient, cfg RedisStreamsConfig) (*RedisStreams, error) {
	if client == nil {
		return nil, errors.New("broker: redis client is nil")
	}
	if strings.TrimSpace(cfg.Stream) == "" {
		return nil, errors.New("broker: stream name is required")
	}
	if cfg.Group == "" {
		cfg.Group = "identity"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "identity-1"
	}
	if cfg.DeadLetterStream == "" {
		cfg.DeadLetterStream = cfg.Stream + ":dlq"
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = 30 * time.Second
	}
	if cfg.MaxLen < 0 || cfg.Block < 0 {
		return nil, errors.New("broker: MaxLen and Block must be >= 0")
	}
	return &RedisStreams{client: client, cfg: cfg}, nil
}

// Config returns the effective configuration.
func (r *RedisStreams) Config() RedisStreamsConfig {
	return r.cfg
}

// EnsureGroup creates the stream and consumer group if missing.
func (r *RedisStreams) EnsureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.cfg.Stream, r.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: create group: %v", ErrUnavailable, err)
	}
	return nil
}

// Publish appends msg to the stream. XADD success is the broker ack.
func (r *RedisStreams) Publish(ctx context.Context, msg Message) error {
	args := &redis.XAddArgs{
		Stream: r.cfg.Stream,
		Values: map[string]any{
			fieldEventID:   msg.EventID,
			fieldEventType: msg.EventType,
			fieldKey:       msg.Key,
			fieldBody:      string(msg.Body),
		},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: xadd %s: %v", ErrUnavailable, msg.EventID, err)
	}
	return nil
}

// Receive first reclaims entries idle longer than ReclaimIdle, then reads new
// entries for this consumer.
func (r *RedisStreams) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}

	claimed, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.ReclaimIdle,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: xautoclaim: %v", ErrUnavailable, err)
	}
	if len(claimed) > 0 {
		return toDeliveries(claimed, true), nil
	}

	block := time.Duration(-1)
	if r.cfg.Block > 0 {
		block = r.cfg.Block
	}
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		Streams:  []string{r.cfg.Stream, ">"},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: xreadgroup: %v", ErrUnavailable, err)
	}

	var out []Delivery
	for _, s := range streams {
		out = append(out, toDeliveries(s.Messages, false)...)
	}
	return out, nil
}

// Ack acknowledges the entry in the group.
func (r *RedisStreams) Ack(ctx context.Context, d Delivery) error {
	if err := r.client.XAck(ctx, r.cfg.Stream, r.cfg.Group, d.ID).Err(); err != nil {
		return fmt.Errorf("%w: xack %s: %v", ErrUnavailable, d.ID, err)
	}
	return nil
}

// Nack leaves the entry pending. Receive reclaims it after ReclaimIdle.
func (r *RedisStreams) Nack(context.Context, Delivery) error {
	return nil
}

// DeadLetter copies the entry to the dead-letter stream and acknowledges it
// in one MULTI/EXEC.
func (r *RedisStreams) DeadLetter(ctx context.Context, d Delivery, reason string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.cfg.DeadLetterStream,
			Values: map[string]any{
				fieldEventID:   d.EventID,
				fieldEventType: d.EventType,
				fieldKey:       d.Key,
				fieldBody:      string(d.Body),
				fieldReason:    reason,
				fieldOrigin:    d.ID,
			},
		})
		pipe.XAck(ctx, r.cfg.Stream, r.cfg.Group, d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: dead-letter %s: %v", ErrUnavailable, d.ID, err)
	}
	return nil
}

func toDeliveries(msgs []redis.XMessage, redelivered bool) []Delivery {
	out := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Delivery{
			ID:          m.ID,
			Redelivered: redelivered,
			Message: Message{
				Key:       stringField(m.Values, fieldKey),
				EventID:   stringField(m.Values, fieldEventID),
				EventType: stringField(m.Values, fieldEventType),
				Body:      []byte(stringField(m.Values, fieldBody)),
			},
		})
	}
	return out
}

func stringField(values map[string]any, name string) string {
	s, _ := values[name].(string)
	return s
}

// Dial connects to the Redis at url, retrying the initial ping with
// exponential backoff.
func Dial(ctx context.Context, url string, attempts uint64) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("broker: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	backoff := retry.WithMaxRetries(attempts, retry.WithCappedDuration(5*time.Second, retry.NewExponential(200*time.Millisecond)))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return client, nil
}
