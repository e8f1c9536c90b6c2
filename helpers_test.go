package goIdentity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goIdentity/permission"
	"github.com/MrEthical07/goIdentity/store"
	"github.com/MrEthical07/goIdentity/tenant"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testConfig keeps the KDF cheap and metrics on.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte(testSecret)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Security.MaxLoginAttempts = 3
	cfg.Security.LoginCooldownDuration = time.Minute
	cfg.Metrics.Enabled = true
	return cfg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine *Engine
	db     *store.DB
	redis  *miniredis.Miniredis
	clock  *testClock
}

func newTestEnv(t *testing.T, cfg Config, opts ...func(*Builder)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db := store.OpenTestDB(t)
	clock := newTestClock()

	b := New().WithConfig(cfg).WithStore(db).WithRedis(rdb).WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, db: db, redis: mr, clock: clock}
}

func mustTenant(t *testing.T, id string) tenant.Context {
	t.Helper()
	tc, err := tenant.New(tenant.ID(id))
	require.NoError(t, err)
	return tc
}

// seedPrincipal registers a principal and grants it roles, creating the role
// rows on first use.
func (env *testEnv) seedPrincipal(t *testing.T, tc tenant.Context, email, pw string, roles ...permission.Role) *Principal {
	t.Helper()
	ctx := context.Background()

	p, err := env.engine.RegisterPrincipal(ctx, tc, RegisterInput{DisplayName: email, Email: email, Password: pw})
	require.NoError(t, err)
	for _, r := range roles {
		if _, err := env.engine.CreateRole(ctx, tc, r); err != nil {
			require.ErrorIs(t, err, ErrRoleExists)
		}
		require.NoError(t, env.engine.AssignRole(ctx, tc, p.PrincipalID, r))
	}
	return p
}
