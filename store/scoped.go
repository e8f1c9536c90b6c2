package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/MrEthical07/goIdentity/tenant"
)

// Scoped is the only way to read or write tenant-owned tables. Every
// statement it builds carries the tenant predicate of the Context it was
// created with; callers supply only their own conditions.
type Scoped struct {
	c      conn
	tenant tenant.Context
}

// Scoped returns a tenant-bound view over the pool, for reads outside a unit
// of work.
func (d *DB) Scoped(tc tenant.Context) Scoped {
	return Scoped{c: d.conn, tenant: tc}
}

// Scoped returns a tenant-bound view inside the transaction.
func (t *Tx) Scoped(tc tenant.Context) Scoped {
	return Scoped{c: t.conn, tenant: tc}
}

// Tenant returns the tenant this view is bound to.
func (s Scoped) Tenant() tenant.Context { return s.tenant }

// Query describes a tenant-scoped SELECT. Where is ANDed with the tenant
// predicate and may be empty. Alias qualifies the tenant column when From is
// a join.
type Query struct {
	Columns []string
	From    string
	Alias   string
	Where   string
	Args    []any
	OrderBy string
	Limit   int
}

func (s Scoped) predicate(alias string) (string, []any, error) {
	if !s.tenant.Valid() {
		return "", nil, ErrUnscopedQuery
	}
	p := tenant.ScopeFilter(s.tenant.ID())
	if alias != "" {
		p.Column = alias + "." + p.Column
	}
	clause, args := p.SQL()
	return clause, args, nil
}

// owns reports whether a row read through this view carries its tenant.
func (s Scoped) owns(tenantID string) bool {
	return tenant.ScopeFilter(s.tenant.ID()).Matches(tenant.ID(tenantID))
}

func (s Scoped) where(alias, where string, args []any) (string, []any, error) {
	clause, scopeArgs, err := s.predicate(alias)
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(where) == "" {
		return " WHERE " + clause, scopeArgs, nil
	}
	if !balanced(where) {
		return "", nil, fmt.Errorf("%w: %q", ErrUnbalancedCondition, where)
	}
	return " WHERE " + clause + " AND (" + where + ")", append(scopeArgs, args...), nil
}

// balanced reports whether the parentheses of cond pair up outside quoted
// literals. An unpaired ")" would let cond escape the group it is wrapped in
// and OR past the tenant predicate.
func balanced(cond string) bool {
	depth := 0
	var quote rune
	for _, r := range cond {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && quote == 0
}

func (q Query) build(where string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.Columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(q.From)
	b.WriteString(where)
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String()
}

// Select runs q and returns the rows. The caller closes them.
func (s Scoped) Select(ctx context.Context, q Query) (*sql.Rows, error) {
	where, args, err := s.where(q.Alias, q.Where, q.Args)
	if err != nil {
		return nil, err
	}
	return s.c.query(ctx, q.build(where), args...)
}

// SelectOne runs q and scans the single result into dest. ErrNotFound is
// returned when no row matches.
func (s Scoped) SelectOne(ctx context.Context, q Query, dest ...any) error {
	where, args, err := s.where(q.Alias, q.Where, q.Args)
	if err != nil {
		return err
	}
	q.Limit = 1
	if err := s.c.queryRow(ctx, q.build(where), args...).Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Count returns the number of the tenant's rows of table matching where.
func (s Scoped) Count(ctx context.Context, table, where string, args ...any) (int64, error) {
	var n int64
	err := s.SelectOne(ctx, Query{Columns: []string{"COUNT(*)"}, From: table, Where: where, Args: args}, &n)
	return n, err
}

// Insert writes one row into table. The tenant_id column is added from the
// scope; cols must not name it.
func (s Scoped) Insert(ctx context.Context, table string, cols []string, vals ...any) error {
	_, err := s.insert(ctx, table, cols, vals, "")
	return err
}

// InsertIgnore is Insert with ON CONFLICT DO NOTHING. It reports whether a
// row was written.
func (s Scoped) InsertIgnore(ctx context.Context, table string, cols []string, vals ...any) (bool, error) {
	n, err := s.insert(ctx, table, cols, vals, " ON CONFLICT DO NOTHING")
	return n == 1, err
}

func (s Scoped) insert(ctx context.Context, table string, cols []string, vals []any, suffix string) (int64, error) {
	if !s.tenant.Valid() {
		return 0, ErrUnscopedQuery
	}
	if len(cols) != len(vals) {
		return 0, fmt.Errorf("store: insert into %s: %d columns for %d values", table, len(cols), len(vals))
	}
	for _, c := range cols {
		if c == "tenant_id" {
			return 0, fmt.Errorf("store: insert into %s: tenant_id is set by the scope", table)
		}
	}

	allCols := append([]string{"tenant_id"}, cols...)
	args := append([]any{string(s.tenant.ID())}, vals...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(allCols)), ", ")
	query := "INSERT INTO " + table + " (" + strings.Join(allCols, ", ") + ") VALUES (" + placeholders + ")" + suffix

	res, err := s.c.exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrConflict, table)
		}
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrTenantMismatch, table)
		}
		return 0, err
	}
	return res.RowsAffected()
}

// Update applies set (with setArgs) to rows of table matching where and
// returns the number of rows changed.
func (s Scoped) Update(ctx context.Context, table, set string, setArgs []any, where string, whereArgs ...any) (int64, error) {
	clause, args, err := s.where("", where, whereArgs)
	if err != nil {
		return 0, err
	}
	res, err := s.c.exec(ctx, "UPDATE "+table+" SET "+set+clause, append(append([]any(nil), setArgs...), args...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes rows of table matching where.
func (s Scoped) Delete(ctx context.Context, table, where string, args ...any) (int64, error) {
	clause, scopeArgs, err := s.where("", where, args)
	if err != nil {
		return 0, err
	}
	res, err := s.c.exec(ctx, "DELETE FROM "+table+clause, scopeArgs...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
