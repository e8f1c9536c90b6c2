package store

import (
	"context"
	"fmt"
	"time"
)

// Role is a tenant-local role row. Name is one of the registered role names.
type Role struct {
	RoleID    string
	TenantID  string
	Name      string
	CreatedAt time.Time
}

// CreateRole inserts r under the scope's tenant. ErrConflict is returned when
// the name already exists in this tenant.
func (s Scoped) CreateRole(ctx context.Context, r *Role) error {
	if err := s.Insert(ctx, "roles", []string{"role_id", "name", "created_at"}, r.RoleID, r.Name, millis(r.CreatedAt)); err != nil {
		return err
	}
	r.TenantID = string(s.tenant.ID())
	return nil
}

// RoleByName returns the tenant's role with name.
func (s Scoped) RoleByName(ctx context.Context, name string) (*Role, error) {
	r := &Role{}
	if err := s.SelectOne(ctx, Query{
		Columns: []string{"role_id", "tenant_id", "name", "created_at"},
		From:    "roles",
		Where:   "name = ?",
		Args:    []any{name},
	}, &r.RoleID, &r.TenantID, &r.Name, millisDest{&r.CreatedAt}); err != nil {
		return nil, err
	}
	if !s.owns(r.TenantID) {
		return nil, ErrTenantMismatch
	}
	return r, nil
}

// AssignRole links a principal and a role of the scope's tenant. Both rows
// must exist in that tenant: the composite foreign keys reject a link to
// another tenant's principal or role with ErrTenantMismatch. Assigning an
// existing link is a no-op reported as false.
func (s Scoped) AssignRole(ctx context.Context, principalID, roleID string) (bool, error) {
	if _, err := s.PrincipalByID(ctx, principalID); err != nil {
		return false, fmt.Errorf("%w: principal %s", mismatchOr(err), principalID)
	}
	if _, err := s.roleByID(ctx, roleID); err != nil {
		return false, fmt.Errorf("%w: role %s", mismatchOr(err), roleID)
	}
	return s.InsertIgnore(ctx, "principal_roles", []string{"principal_id", "role_id"}, principalID, roleID)
}

// RevokeRole removes a principal-role link. It reports whether a link existed.
func (s Scoped) RevokeRole(ctx context.Context, principalID, roleID string) (bool, error) {
	n, err := s.Delete(ctx, "principal_roles", "principal_id = ? AND role_id = ?", principalID, roleID)
	return n > 0, err
}

// RoleHolderCount returns how many of the tenant's principals hold roleID.
func (s Scoped) RoleHolderCount(ctx context.Context, roleID string) (int64, error) {
	return s.Count(ctx, "principal_roles", "role_id = ?", roleID)
}

// RoleNamesFor returns the names of the roles assigned to a principal, sorted.
func (s Scoped) RoleNamesFor(ctx context.Context, principalID string) ([]string, error) {
	rows, err := s.Select(ctx, Query{
		Columns: []string{"r.name"},
		From:    "principal_roles pr JOIN roles r ON r.tenant_id = pr.tenant_id AND r.role_id = pr.role_id",
		Alias:   "pr",
		Where:   "pr.principal_id = ?",
		Args:    []any{principalID},
		OrderBy: "r.name",
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s Scoped) roleByID(ctx context.Context, roleID string) (*Role, error) {
	r := &Role{}
	if err := s.SelectOne(ctx, Query{
		Columns: []string{"role_id", "tenant_id", "name", "created_at"},
		From:    "roles",
		Where:   "role_id = ?",
		Args:    []any{roleID},
	}, &r.RoleID, &r.TenantID, &r.Name, millisDest{&r.CreatedAt}); err != nil {
		return nil, err
	}
	if !s.owns(r.TenantID) {
		return nil, ErrTenantMismatch
	}
	return r, nil
}

// mismatchOr reports a scoped miss as a tenant mismatch: the row either does
// not exist or belongs to another tenant, and the caller must not learn which.
func mismatchOr(err error) error {
	if err == ErrNotFound {
		return ErrTenantMismatch
	}
	return err
}
