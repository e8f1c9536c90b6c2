package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestLoginBudgetPerTenantAndIdentifier(t *testing.T) {
	l, _ := newLimiter(t, Config{MaxLoginAttempts: 3, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.CheckLogin(ctx, "t1", "a@x.io", ""))
		require.NoError(t, l.IncrementLogin(ctx, "t1", "a@x.io", ""))
	}
	assert.ErrorIs(t, l.CheckLogin(ctx, "t1", "A@x.io", ""), ErrRateLimited)
	assert.ErrorIs(t, l.IncrementLogin(ctx, "t1", "a@x.io", ""), ErrRateLimited)

	// Same email, other tenant: separate budget.
	assert.NoError(t, l.CheckLogin(ctx, "t2", "a@x.io", ""))

	n, err := l.LoginAttempts(ctx, "t1", "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, l.ResetLogin(ctx, "t1", "a@x.io", ""))
	assert.NoError(t, l.CheckLogin(ctx, "t1", "a@x.io", ""))
}

func TestLoginWindowExpires(t *testing.T) {
	l, mr := newLimiter(t, Config{MaxLoginAttempts: 1, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.IncrementLogin(ctx, "t1", "a@x.io", ""))
	assert.ErrorIs(t, l.CheckLogin(ctx, "t1", "a@x.io", ""), ErrRateLimited)

	mr.FastForward(2 * time.Minute)
	assert.NoError(t, l.CheckLogin(ctx, "t1", "a@x.io", ""))
}

func TestIPThrottle(t *testing.T) {
	l, _ := newLimiter(t, Config{EnableIPThrottle: true, MaxLoginAttempts: 2, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.IncrementLogin(ctx, "t1", "a@x.io", "10.0.0.1"))
	require.NoError(t, l.IncrementLogin(ctx, "t1", "b@x.io", "10.0.0.1"))
	assert.ErrorIs(t, l.CheckLogin(ctx, "t1", "c@x.io", "10.0.0.1"), ErrRateLimited)
	assert.NoError(t, l.CheckLogin(ctx, "t1", "c@x.io", "10.0.0.2"))
}

func TestRedisDown(t *testing.T) {
	l, mr := newLimiter(t, Config{MaxLoginAttempts: 2, LoginCooldownDuration: time.Minute})
	mr.Close()

	assert.ErrorIs(t, l.CheckLogin(context.Background(), "t1", "a@x.io", ""), ErrRedisUnavailable)
}
