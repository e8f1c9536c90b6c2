package store

import (
	"context"
	"strings"
	"time"
)

// DirectoryEntry is the consumer-side read model of a principal, built from
// principal events.
type DirectoryEntry struct {
	PrincipalID string
	DisplayName string
	Email       string
	Roles       string
	UpdatedAt   time.Time
}

// UpsertDirectoryEntry inserts the entry or refreshes its profile fields.
func (s Scoped) UpsertDirectoryEntry(ctx context.Context, e DirectoryEntry) error {
	n, err := s.Update(ctx, "principal_directory", "display_name = ?, email = ?, updated_at = ?",
		[]any{e.DisplayName, e.Email, millis(e.UpdatedAt)}, "principal_id = ?", e.PrincipalID)
	if err != nil || n > 0 {
		return err
	}
	return s.Insert(ctx, "principal_directory",
		[]string{"principal_id", "display_name", "email", "roles", "updated_at"},
		e.PrincipalID, e.DisplayName, e.Email, e.Roles, millis(e.UpdatedAt))
}

// AppendDirectoryRole records a role on the entry. Missing entries are
// reported as ErrNotFound.
func (s Scoped) AppendDirectoryRole(ctx context.Context, principalID, role string, at time.Time) error {
	e, err := s.DirectoryEntry(ctx, principalID)
	if err != nil {
		return err
	}
	roles := e.Roles
	if roles == "" {
		roles = role
	} else {
		roles = roles + "," + role
	}
	_, err = s.Update(ctx, "principal_directory", "roles = ?, updated_at = ?", []any{roles, millis(at)},
		"principal_id = ?", principalID)
	return err
}

// RemoveDirectoryRole drops role from the entry. Removing a role the entry
// does not list is a no-op.
func (s Scoped) RemoveDirectoryRole(ctx context.Context, principalID, role string, at time.Time) error {
	e, err := s.DirectoryEntry(ctx, principalID)
	if err != nil {
		return err
	}
	kept := make([]string, 0, strings.Count(e.Roles, ",")+1)
	for _, r := range strings.Split(e.Roles, ",") {
		if r != "" && r != role {
			kept = append(kept, r)
		}
	}
	_, err = s.Update(ctx, "principal_directory", "roles = ?, updated_at = ?", []any{strings.Join(kept, ","), millis(at)},
		"principal_id = ?", principalID)
	return err
}

// DirectoryEntry returns the tenant's entry for principalID.
func (s Scoped) DirectoryEntry(ctx context.Context, principalID string) (*DirectoryEntry, error) {
	e := &DirectoryEntry{}
	if err := s.SelectOne(ctx, Query{
		Columns: []string{"principal_id", "display_name", "email", "roles", "updated_at"},
		From:    "principal_directory",
		Where:   "principal_id = ?",
		Args:    []any{principalID},
	}, &e.PrincipalID, &e.DisplayName, &e.Email, &e.Roles, millisDest{&e.UpdatedAt}); err != nil {
		return nil, err
	}
	return e, nil
}
