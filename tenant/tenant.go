package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/permission"
)

// ErrTenantResolution is matched by every *ResolutionError.
var ErrTenantResolution = errors.New("tenant resolution failed")

// ResolutionError reports why no tenant could be resolved for a unit of work.
type ResolutionError struct {
	Reason string
}

func (e *ResolutionError) Error() string {
	return ErrTenantResolution.Error() + ": " + e.Reason
}

func (e *ResolutionError) Unwrap() error {
	return ErrTenantResolution
}

// ID identifies a tenant.
type ID string

func (id ID) String() string { return string(id) }

// Context is the tenant bound to one unit of work. It is an immutable value;
// build a new one per request, never share one across requests.
type Context struct {
	id          ID
	principalID string
	roles       []permission.Role
	delegated   bool
}

// New builds a Context for id. Used by trusted internal callers (workers,
// migrations, tests) that act on behalf of a tenant without a credential.
func New(id ID) (Context, error) {
	if strings.TrimSpace(string(id)) == "" {
		return Context{}, &ResolutionError{Reason: "empty tenant id"}
	}
	return Context{id: id}, nil
}

// Resolve extracts the tenant from a validated credential. A nil credential
// stands for an unauthenticated caller.
func Resolve(cred *jwt.Credential) (Context, error) {
	if cred == nil {
		return Context{}, &ResolutionError{Reason: "unauthenticated"}
	}
	if strings.TrimSpace(cred.TenantID) == "" {
		return Context{}, &ResolutionError{Reason: "credential carries no tenant"}
	}
	return Context{
		id:          ID(cred.TenantID),
		principalID: cred.PrincipalID,
		roles:       append([]permission.Role(nil), cred.Roles...),
		delegated:   true,
	}, nil
}

// ID returns the tenant id; empty for the zero Context.
func (c Context) ID() ID { return c.id }

// PrincipalID returns the acting principal, empty for internal callers.
func (c Context) PrincipalID() string { return c.principalID }

// Roles returns the roles of the credential c was resolved from.
func (c Context) Roles() []permission.Role {
	return append([]permission.Role(nil), c.roles...)
}

// Delegated reports whether c acts for a credential holder. Contexts from
// New are trusted internal callers and report false.
func (c Context) Delegated() bool { return c.delegated }

// Valid reports whether c was produced by New or Resolve.
func (c Context) Valid() bool { return c.id != "" }

func (c Context) String() string {
	return fmt.Sprintf("tenant=%s principal=%s", c.id, c.principalID)
}

// Predicate is the tenant scope condition every tenant-owned query ANDs
// with its own conditions.
type Predicate struct {
	Column string
	Value  ID
}

// ScopeFilter returns the predicate restricting rows to id.
func ScopeFilter(id ID) Predicate {
	return Predicate{Column: "tenant_id", Value: id}
}

// SQL renders the predicate with a positional placeholder.
func (p Predicate) SQL() (string, []any) {
	return p.Column + " = ?", []any{string(p.Value)}
}

// Matches reports whether a row owned by owner passes the predicate.
func (p Predicate) Matches(owner ID) bool {
	return p.Value != "" && owner == p.Value
}

type contextKey struct{}

// WithContext attaches tc to ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the Context attached by WithContext.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	tc, ok := ctx.Value(contextKey{}).(Context)
	if !ok || !tc.Valid() {
		return Context{}, false
	}
	return tc, true
}
