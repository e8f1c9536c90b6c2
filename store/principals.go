package store

import (
	"context"
	"time"
)

// Principal is an identity inside one tenant. TenantID is fixed at creation.
type Principal struct {
	PrincipalID  string
	TenantID     string
	DisplayName  string
	Email        string
	PasswordHash string
	PasswordSalt []byte
	CreatedAt    time.Time
}

var principalColumns = []string{
	"principal_id", "tenant_id", "display_name", "email", "password_hash", "password_salt", "created_at",
}

func principalDest(p *Principal) []any {
	return []any{&p.PrincipalID, &p.TenantID, &p.DisplayName, &p.Email, &p.PasswordHash, &p.PasswordSalt, millisDest{&p.CreatedAt}}
}

// CreatePrincipal inserts p under the scope's tenant. p.TenantID is ignored
// and overwritten. ErrConflict is returned when the email is already taken
// in this tenant.
func (s Scoped) CreatePrincipal(ctx context.Context, p *Principal) error {
	if err := s.Insert(ctx, "principals",
		[]string{"principal_id", "display_name", "email", "password_hash", "password_salt", "created_at"},
		p.PrincipalID, p.DisplayName, p.Email, p.PasswordHash, p.PasswordSalt, millis(p.CreatedAt),
	); err != nil {
		return err
	}
	p.TenantID = string(s.tenant.ID())
	return nil
}

// PrincipalByEmail looks the email up inside the scope's tenant only.
func (s Scoped) PrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	p := &Principal{}
	if err := s.SelectOne(ctx, Query{Columns: principalColumns, From: "principals", Where: "email = ?", Args: []any{email}},
		principalDest(p)...); err != nil {
		return nil, err
	}
	return p, nil
}

// PrincipalByID looks the principal up inside the scope's tenant only.
func (s Scoped) PrincipalByID(ctx context.Context, principalID string) (*Principal, error) {
	p := &Principal{}
	if err := s.SelectOne(ctx, Query{Columns: principalColumns, From: "principals", Where: "principal_id = ?", Args: []any{principalID}},
		principalDest(p)...); err != nil {
		return nil, err
	}
	if !s.owns(p.TenantID) {
		return nil, ErrTenantMismatch
	}
	return p, nil
}

// ListPrincipals returns the tenant's principals in creation order.
func (s Scoped) ListPrincipals(ctx context.Context) ([]*Principal, error) {
	rows, err := s.Select(ctx, Query{Columns: principalColumns, From: "principals", OrderBy: "created_at, principal_id"})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Principal
	for rows.Next() {
		p := &Principal{}
		if err := rows.Scan(principalDest(p)...); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePasswordHash replaces the stored hash and salt of a principal.
func (s Scoped) UpdatePasswordHash(ctx context.Context, principalID, hash string, salt []byte) error {
	n, err := s.Update(ctx, "principals", "password_hash = ?, password_salt = ?", []any{hash, salt},
		"principal_id = ?", principalID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
