package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goIdentity/tenant"
)

var errSimulatedCrash = errors.New("simulated crash")

func mustTenant(t *testing.T, id string) tenant.Context {
	t.Helper()
	tc, err := tenant.New(tenant.ID(id))
	require.NoError(t, err)
	return tc
}

func newPrincipal(email string) *Principal {
	return &Principal{
		PrincipalID:  uuid.NewString(),
		DisplayName:  "Test User",
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA",
		PasswordSalt: make([]byte, 16),
		CreatedAt:    time.Now(),
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := conn{dialect: Postgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	lite := conn{dialect: SQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestScopedRequiresTenant(t *testing.T) {
	t.Parallel()
	db := OpenTestDB(t)
	ctx := context.Background()

	_, err := db.Scoped(tenant.Context{}).ListPrincipals(ctx)
	assert.ErrorIs(t, err, ErrUnscopedQuery)

	err = db.Scoped(tenant.Context{}).CreatePrincipal(ctx, newPrincipal("a@example.com"))
	assert.ErrorIs(t, err, ErrUnscopedQuery)

	_, err = db.Scoped(tenant.Context{}).Delete(ctx, "principals", "")
	assert.ErrorIs(t, err, ErrUnscopedQuery)
}

func TestScopedInsertRejectsExplicitTenantColumn(t *testing.T) {
	t.Parallel()
	db := OpenTestDB(t)

	err := db.Scoped(mustTenant(t, "T1")).Insert(context.Background(), "roles",
		[]string{"role_id", "tenant_id", "name", "created_at"}, "r1", "T2", "Manager", int64(0))
	require.Error(t, err)
}

func TestSameEmailInTwoTenants(t *testing.T) {
	t.Parallel()
	db := OpenTestDB(t)
	ctx := context.Background()
	t1, t2 := mustTenant(t, "T1"), mustTenant(t, "T2")

	a := newPrincipal("alice@example.com")
	b := newPrincipal("alice@example.com")
	require.NoError(t, db.Scoped(t1).CreatePrincipal(ctx, a))
	require.NoError(t, db.Scoped(t2).CreatePrincipal(ctx, b))

	dup := newPrincipal("alice@example.com")
	assert.ErrorIs(t, db.Scoped(t1).CreatePrincipal(ctx, dup), ErrConflict)

	got1, err := db.Scoped(t1).PrincipalByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	got2, err := db.Scoped(t2).PrincipalByEmail(ctx, "alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, a.PrincipalID, got1.PrincipalID)
	assert.Equal(t, "T1", got1.TenantID)
	assert.Equal(t, b.PrincipalID, got2.PrincipalID)
	assert.Equal(t, "T2", got2.TenantID)

	_, err = db.Scoped(t1).PrincipalByID(ctx, b.PrincipalID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// Randomized fixtures: every scoped read returns only the scope's rows.
func TestTenantIsolationProperty(t *testing.T) {
	t.Parallel()
	db := OpenTestDB(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))

	tenants := []string{"alpha", "beta", "gamma", "delta"}
	owned := make(map[string]map[string]bool)
	for _, id := range tenants {
		owned[id] = make(map[string]bool)
	}

	for i := 0; i < 120; i++ {
		id := tenants[rng.IntN(len(tenants))]
		// Shared emails across tenants are deliberate.
		p := newPrincipal(fmt.Sprintf("user%d@example.com", rng.IntN(40)))
		err := db.Scoped(mustTenant(t, id)).CreatePrincipal(ctx, p)
		if errors.Is(err, ErrConflict) {
			continue
		}
		require.NoError(t, err)
		owned[id][p.PrincipalID] = true
	}

	for _, id := range tenants {
		scope := db.Scoped(mustTenant(t, id))
		list, err := scope.ListPrincipals(ctx)
		require.NoError(t, err)
		assert.Len(t, list, len(owned[id]))
		for _, p := range list {
			assert.Equal(t, id, p.TenantID)
			assert.True(t, owned[id][p.PrincipalID])
		}

		n, err := scope.Count(ctx, "principals", "")
		require.NoError(t, err)
		assert.EqualValues(t, len(owned[id]), n)

		for other, ids := range owned {
			if other == id {
				continue
			}
			for pid := range ids {
				_, err := scope.PrincipalByID(ctx, pid)
				assert.ErrorIs(t, err, ErrNotFound)
			}
		}
	}

	// A scoped delete must not touch other tenants.
	removed, err := db.Scoped(mustTenant(t, "alpha")).Delete(ctx, "principals", "")
	require.NoError(t, err)
	assert.EqualValues(t, len(owned["alpha"]), removed)
	for _, id := range tenants[1:] {
		n, err := db.Scoped(mustTenant(t, id)).Count(ctx, "principals", "")
		require.NoError(t, err)
		assert.EqualValues(t, len(owned[id]), n)
	}
}

func TestAssignRoleEnforcesSameTenant(t *testing.T) {
	t.Parallel()
	db := OpenTestDB(t)
	ctx := context.Background()
	t1, t2 := mustTenant(t, "T1"), mustTenant(t, "T2")

	p1 := newPrincipal("p1@example.com")
	require.NoError(t, db.Scoped(t1).CreatePrincipal(ctx, p1))
	r1 := &Role{RoleID: uuid.NewString(), Name: "Manager", CreatedAt: time.Now()}
	require.NoError(t, db.Scoped(t1).CreateRole(ctx, r1))
	r2 := &Role{RoleID: uuid.NewString(), Name: "Manager", CreatedAt: time.Now()}
	require.NoError(t, db.Scoped(t2).CreateRole(ctx, r2))

	assert.ErrorIs(t, db.Scoped(t1).CreateRole(ctx, &Role{RoleID: uuid.NewString(), Name: "Manager"}), ErrConflict)

	_, err := db.Scoped(t1).AssignRole(ctx, p1.PrincipalID, r2.RoleID)
	assert.ErrorIs(t, err, ErrTenantMismatch)
	_, err = db.Scoped(t2).AssignRole(ctx, p1.PrincipalID, r2.RoleID)
	assert.ErrorIs(t, err, ErrTenantMismatch)

	added, err := db.Scoped(t1).AssignRole(ctx, p1.PrincipalID, r1.RoleID)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = db.Scoped(t1).AssignRole(ctx, p1.PrincipalID, r1.RoleID)
	require.NoError(t, err)
	assert.False(t, added)

	names, err := db.Scoped(t1).RoleNamesFor(ctx, p1.PrincipalID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Manager"}, names)

	names, err = db.Scoped(t2).RoleNamesFor(ctx, p1.PrincipalID)
	require.NoError(t, err)
	assert.Empty(t, names)

	held, err := db.Scoped(t1).RoleHolderCount(ctx, r1.RoleID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, held)
	held, err = db.Scoped(t2).RoleHolderCount(ctx, r1.RoleID)
	require.NoError(t, err)
	assert.Zero(t, held)

	revoked, err := db.Scoped(t2).RevokeRole(ctx, p1.PrincipalID, r1.RoleID)
	require.NoError(t, err)
	assert.False(t, revoked)
	revoked, err = db.Scoped(t1).RevokeRole(ctx, p1.PrincipalID, r1.RoleID)
	require.NoError(t, err)
	assert.True(t, revoked)
	revoked, err = db.Scoped(t1).RevokeRole(ctx, p1.PrincipalID, r1.RoleID)
	require.NoError(t, err)
	assert.False(t, revoked)

	held, err = db.Scoped(t1).RoleHolderCount(ctx, r1.RoleID)
	require.NoError(t, err)
	assert.Zero(t, held)
}

func TestScopedRejectsConditionEscapingTenantGroup(t *testing.T) {
	t.Parallel()
	db := OpenTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Scoped(mustTenant(t, "T1")).CreatePrincipal(ctx, newPrincipal("a@example.com")))
	require.NoError(t, db.Scoped(mustTenant(t, "T2")).CreatePrincipal(ctx, newPrincipal("b@example.com")))
	scope := db.Scoped(mustTenant(t, "T1"))

	escape := "1 = 1) OR (1 = 1"
	_, err := scope.Count(ctx, "principals", escape)
	assert.ErrorIs(t, err, ErrUnbalancedCondition)
	_, err = scope.Select(ctx, Query{Columns: []string{"principal_id"}, From: "principals", Where: escape})
	assert.ErrorIs(t, err, ErrUnbalancedCondition)
	_, err = scope.Update(ctx, "principals", "display_name = ?", []any{"x"}, escape)
	assert.ErrorIs(t, err, ErrUnbalancedCondition)
	_, err = scope.Delete(ctx, "principals", "1 = 1) OR 1 = 1 --")
	assert.ErrorIs(t, err, ErrUnbalancedCondition)

	n, err := db.Scoped(mustTenant(t, "T2")).Count(ctx, "principals", "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// Parentheses inside a literal do not count.
	n, err = scope.Count(ctx, "principals", "(display_name = ')' OR email = ?)", "a@example.com")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestBalanced(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cond string
		want bool
	}{
		{"a = ?", true},
		{"(a = ? OR b = ?) AND c = ?", true},
		{"a = ')' AND b = '('", true},
		{"a = 'it''s (fine'", true},
		{"a = ?)", false},
		{"(a = ?", false},
		{"a = ?) OR (b = ?", false},
		{"a = 'open", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, balanced(tt.cond), tt.cond)
	}
}

// The composite foreign keys hold even when the repository check is bypassed.
func TestPrincipalRolesForeignKeysRejectCrossTenantRows(t *testing.T) {
	t.Parallel()
	db := OpenTestDB(t)
	ctx := context.Background()

	p := newPrincipal("p@example.com")
	require.NoError(t, db.Scoped(mustTenant(t, "T1")).CreatePrincipal(ctx, p))
	r := &Role{RoleID: uuid.NewString(), Name: "Analyst", CreatedAt: time.Now()}
	require.NoError(t, db.Scoped(mustTenant(t, "T2")).CreateRole(ctx, r))

	err := db.Scoped(mustTenant(t, "T1")).Insert(ctx, "principal_roles", []string{"principal_id", "role_id"}, p.PrincipalID, r.RoleID)
	assert.ErrorIs(t, err, ErrTenantMismatch)
}

func TestOutboxAppendIsAtomicWithMutation(t *testing.T) {
	t.Parallel()
	db := OpenTestDB(t)
	ctx := context.Background()
	tc := mustTenant(t, "T1")

	tests := []struct {
		name  string
		fn    func(tx *Tx, p *Principal, rec *OutboxRecord) error
		crash bool
	}{
		{
			name: "crash after mutation before append",
			fn: func(tx *Tx, p *Principal, rec *OutboxRecord) error {
				if err := tx.Scoped(tc).CreatePrincipal(ctx, p); err != nil {
					return err
				}
				return errSimulatedCrash
			},
			crash: true,
		},
		{
			name: "crash after append before commit",
			fn: func(tx *Tx, p *Principal, rec *OutboxRecord) error {
				if err := tx.Scoped(tc).CreatePrincipal(ctx, p); err != nil {
					return err
				}
				if err := tx.Scoped(tc).AppendOutbox(ctx, rec); err != nil {
					return err
				}
				return errSimulatedCrash
			},
			crash: true,
		},
		{
			name: "commit",
			fn: func(tx *Tx, p *Principal, rec *OutboxRecord) error {
				if err := tx.Scoped(tc).CreatePrincipal(ctx, p); err != nil {
					return err
				}
				return tx.Scoped(tc).AppendOutbox(ctx, rec)
			},
		},
	}

	for _, tt := range tests {
		p := newPrincipal(uuid.NewString() + "@example.com")
		rec := &OutboxRecord{EventID: uuid.NewString(), EventType: "principal.created", Payload: []byte(`{}`), CreatedAt: time.Now()}

		err := db.WithTx(ctx, func(tx *Tx) error { return tt.fn(tx, p, rec) })

		_, pErr := db.Scoped(tc).PrincipalByID(ctx, p.PrincipalID)
		_, oErr := db.Scoped(tc).OutboxByEventID(ctx, rec.EventID)
		if tt.crash {
			require.ErrorIs(t, err, errSimulatedCrash, tt.name)
			assert.ErrorIs(t, pErr, ErrNotFound, tt.name)
			assert.ErrorIs(t, oErr, ErrNotFound, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.NoError(t, pErr, tt.name)
		assert.NoError(t, oErr, tt.name)
	}
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	t.Parallel()
	db := OpenTestDB(t)
	ctx := context.Background()
	tc := mustTenant(t, "T1")
	p := newPrincipal("panic@example.com")

	assert.Panics(t, func() {
		_ = db.WithTx(ctx, func(tx *Tx) error {
			require.NoError(t, tx.Scoped(tc).CreatePrincipal(ctx, p))
			panic("boom")
		})
	})

	_, err := db.Scoped(tc).PrincipalByID(ctx, p.PrincipalID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOutboxLifecycle(t *testing.T) {
	t.Parallel()
	db := OpenTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	var ids []string
	for i, id := range []string{"T1", "T2", "T1"} {
		rec := &OutboxRecord{EventID: uuid.NewString(), EventType: "role.created", Payload: []byte(fmt.Sprintf(`{"n":%d}`, i)), CreatedAt: now}
		require.NoError(t, db.WithTx(ctx, func(tx *Tx) error {
			return tx.Scoped(mustTenant(t, id)).AppendOutbox(ctx, rec)
		}))
		ids = append(ids, rec.EventID)
	}

	pending, err := db.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, rec := range pending {
		assert.Equal(t, ids[i], rec.EventID)
		assert.Zero(t, rec.AttemptCount)
		assert.Nil(t, rec.DispatchedAt)
	}
	assert.Less(t, pending[0].Seq, pending[1].Seq)

	require.NoError(t, db.RecordAttemptFailure(ctx, ids[0], 1, now.Add(time.Second), "broker down", false, now))
	require.NoError(t, db.RecordAttemptFailure(ctx, ids[1], 5, now, "broker down", true, now))

	marked, err := db.MarkDispatched(ctx, ids[2], 1, now)
	require.NoError(t, err)
	assert.True(t, marked)
	marked, err = db.MarkDispatched(ctx, ids[2], 1, now)
	require.NoError(t, err)
	assert.False(t, marked)

	pending, err = db.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[0], pending[0].EventID)
	assert.Equal(t, 1, pending[0].AttemptCount)
	assert.Equal(t, "broker down", pending[0].LastError)
	assert.True(t, pending[0].NextAttemptAt.Equal(now.Add(time.Second)))

	flagged, err := db.FlaggedOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, ids[1], flagged[0].EventID)
	assert.NotNil(t, flagged[0].FlaggedAt)

	requeued, err := db.RequeueFlagged(ctx, ids[1], now)
	require.NoError(t, err)
	assert.True(t, requeued)
	pending, err = db.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// Scoped reads never see another tenant's record.
	_, err = db.Scoped(mustTenant(t, "T2")).OutboxByEventID(ctx, ids[0])
	assert.ErrorIs(t, err, ErrNotFound)

	purged, err := db.PurgeDispatched(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
}

func TestReserveEventFence(t *testing.T) {
	t.Parallel()
	db := OpenTestDB(t)
	ctx := context.Background()
	now := time.Now()

	reserve := func(consumer, eventID string) bool {
		var ok bool
		require.NoError(t, db.WithTx(ctx, func(tx *Tx) error {
			var err error
			ok, err = tx.ReserveEvent(ctx, consumer, eventID, "T1", now)
			return err
		}))
		return ok
	}

	assert.True(t, reserve("directory", "e1"))
	assert.False(t, reserve("directory", "e1"))
	assert.True(t, reserve("audit", "e1"))

	consumed, err := db.Consumed(ctx, "directory", "e1")
	require.NoError(t, err)
	assert.True(t, consumed)

	purged, err := db.PurgeConsumed(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, purged)
}

func TestDirectoryReadModel(t *testing.T) {
	t.Parallel()
	db := OpenTestDB(t)
	ctx := context.Background()
	scope := db.Scoped(mustTenant(t, "T1"))
	now := time.Now()

	require.NoError(t, scope.UpsertDirectoryEntry(ctx, DirectoryEntry{PrincipalID: "p1", DisplayName: "Alice", Email: "a@example.com", UpdatedAt: now}))
	require.NoError(t, scope.UpsertDirectoryEntry(ctx, DirectoryEntry{PrincipalID: "p1", DisplayName: "Alice B", Email: "a@example.com", UpdatedAt: now}))
	require.NoError(t, scope.AppendDirectoryRole(ctx, "p1", "Manager", now))
	require.NoError(t, scope.AppendDirectoryRole(ctx, "p1", "Analyst", now))

	e, err := scope.DirectoryEntry(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Alice B", e.DisplayName)
	assert.Equal(t, "Manager,Analyst", e.Roles)

	_, err = db.Scoped(mustTenant(t, "T2")).DirectoryEntry(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, scope.AppendDirectoryRole(ctx, "missing", "Manager", now), ErrNotFound)
}
