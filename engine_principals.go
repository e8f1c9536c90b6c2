package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/goIdentity/event"
	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/outbox"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/MrEthical07/goIdentity/store"
	"github.com/MrEthical07/goIdentity/tenant"
)

// RegisterInput describes a new principal.
type RegisterInput struct {
	DisplayName string
	Email       string
	Password    string
}

// Principal is the public view of a principal. Credential material is never
// exposed.
type Principal struct {
	PrincipalID string
	TenantID    string
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

// Role is a role row of one tenant.
type Role struct {
	RoleID   string
	TenantID string
	Name     permission.Role
}

// RegisterPrincipal creates a principal in tc's tenant. The principal row
// and its principal.created event commit together or not at all. The email
// is unique per tenant only.
func (e *Engine) RegisterPrincipal(ctx context.Context, tc tenant.Context, in RegisterInput) (*Principal, error) {
	if e == nil || e.db == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	if !tc.Valid() {
		return nil, tenant.ErrTenantResolution
	}

	email := normalizeEmail(in.Email)
	name := strings.TrimSpace(in.DisplayName)
	if email == "" || name == "" {
		return nil, ErrPrincipalInvalid
	}

	derived, err := e.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) {
			return nil, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	p := &store.Principal{
		PrincipalID:  id.String(),
		DisplayName:  name,
		Email:        email,
		PasswordHash: derived.Hash,
		PasswordSalt: derived.Salt,
		CreatedAt:    e.now().UTC(),
	}

	var eventID string
	err = e.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.Scoped(tc).CreatePrincipal(ctx, p); err != nil {
			return err
		}
		id, err := outbox.Append(ctx, tx, tc, event.TypePrincipalCreated, event.PrincipalCreated{
			PrincipalID: p.PrincipalID,
			DisplayName: p.DisplayName,
			Email:       p.Email,
		})
		eventID = id
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			e.metricInc(metrics.PrincipalDuplicate)
			e.emitAudit(ctx, auditEventPrincipalRegistered, false, "", string(tc.ID()), ErrPrincipalExists, nil)
			return nil, ErrPrincipalExists
		}
		return nil, fmt.Errorf("register principal: %w", err)
	}

	e.afterAppend(string(tc.ID()), eventID, event.TypePrincipalCreated)
	e.metricInc(metrics.PrincipalRegistered)
	e.emitAudit(ctx, auditEventPrincipalRegistered, true, p.PrincipalID, string(tc.ID()), nil, nil)

	return &Principal{
		PrincipalID: p.PrincipalID,
		TenantID:    p.TenantID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		CreatedAt:   p.CreatedAt,
	}, nil
}

// CreateRole adds a role row to tc's tenant. name must be a registered role.
// A credential holder may only create roles whose permissions it holds.
func (e *Engine) CreateRole(ctx context.Context, tc tenant.Context, name permission.Role) (*Role, error) {
	if e == nil || e.db == nil {
		return nil, ErrEngineNotReady
	}
	if !tc.Valid() {
		return nil, tenant.ErrTenantResolution
	}
	if !e.roles.Known(name) {
		return nil, fmt.Errorf("%w: %q", ErrRoleInvalid, name)
	}
	if err := e.checkGrant(ctx, tc, "", name); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	r := &store.Role{RoleID: id.String(), Name: string(name), CreatedAt: e.now().UTC()}

	var eventID string
	err = e.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.Scoped(tc).CreateRole(ctx, r); err != nil {
			return err
		}
		id, err := outbox.Append(ctx, tx, tc, event.TypeRoleCreated, event.RoleCreated{
			RoleID: r.RoleID,
			Name:   r.Name,
		})
		eventID = id
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %q", ErrRoleExists, name)
		}
		return nil, fmt.Errorf("create role: %w", err)
	}

	e.afterAppend(string(tc.ID()), eventID, event.TypeRoleCreated)
	e.metricInc(metrics.RoleCreated)
	e.emitAudit(ctx, auditEventRoleCreated, true, tc.PrincipalID(), string(tc.ID()), nil, func() map[string]string {
		return map[string]string{"role": string(name)}
	})

	return &Role{RoleID: r.RoleID, TenantID: r.TenantID, Name: name}, nil
}

// AssignRole grants role to a principal of tc's tenant. Both must exist in
// that tenant; a principal or role of another tenant is reported as
// ErrNotFound. Assigning a role the principal already holds is a no-op and
// emits no event. A credential holder cannot grant a role stronger than its
// own; that is ErrForbidden.
func (e *Engine) AssignRole(ctx context.Context, tc tenant.Context, principalID string, role permission.Role) error {
	if e == nil || e.db == nil {
		return ErrEngineNotReady
	}
	if !tc.Valid() {
		return tenant.ErrTenantResolution
	}
	if !e.roles.Known(role) {
		return fmt.Errorf("%w: %q", ErrRoleInvalid, role)
	}
	if err := e.checkGrant(ctx, tc, principalID, role); err != nil {
		return err
	}

	var eventID string
	err := e.db.WithTx(ctx, func(tx *store.Tx) error {
		s := tx.Scoped(tc)
		r, err := s.RoleByName(ctx, string(role))
		if err != nil {
			return err
		}
		added, err := s.AssignRole(ctx, principalID, r.RoleID)
		if err != nil || !added {
			return err
		}
		eventID, err = outbox.Append(ctx, tx, tc, event.TypePrincipalRoleAssigned, event.PrincipalRoleAssigned{
			PrincipalID: principalID,
			RoleID:      r.RoleID,
			RoleName:    r.Name,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrTenantMismatch) {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return fmt.Errorf("assign role: %w", err)
	}
	if eventID == "" {
		return nil
	}

	e.afterAppend(string(tc.ID()), eventID, event.TypePrincipalRoleAssigned)
	e.metricInc(metrics.RoleAssigned)
	e.emitAudit(ctx, auditEventRoleAssigned, true, principalID, string(tc.ID()), nil, func() map[string]string {
		return map[string]string{"role": string(role)}
	})
	return nil
}

// RevokeRole removes role from a principal of tc's tenant. A principal or role
// of another tenant is reported as ErrNotFound. Revoking a role the
// principal does not hold is a no-op and emits no event. The same ceiling as
// AssignRole applies, and the tenant's last holder of the root role cannot
// lose it (ErrLastOwner).
func (e *Engine) RevokeRole(ctx context.Context, tc tenant.Context, principalID string, role permission.Role) error {
	if e == nil || e.db == nil {
		return ErrEngineNotReady
	}
	if !tc.Valid() {
		return tenant.ErrTenantResolution
	}
	if !e.roles.Known(role) {
		return fmt.Errorf("%w: %q", ErrRoleInvalid, role)
	}
	if err := e.checkGrant(ctx, tc, principalID, role); err != nil {
		return err
	}

	var eventID string
	err := e.db.WithTx(ctx, func(tx *store.Tx) error {
		s := tx.Scoped(tc)
		if _, err := s.PrincipalByID(ctx, principalID); err != nil {
			return err
		}
		r, err := s.RoleByName(ctx, string(role))
		if err != nil {
			return err
		}
		if e.roles.IsRoot(role) {
			held, err := s.RoleHolderCount(ctx, r.RoleID)
			if err != nil {
				return err
			}
			if held <= 1 {
				names, err := s.RoleNamesFor(ctx, principalID)
				if err != nil {
					return err
				}
				for _, n := range names {
					if n == r.Name {
						return ErrLastOwner
					}
				}
			}
		}
		removed, err := s.RevokeRole(ctx, principalID, r.RoleID)
		if err != nil || !removed {
			return err
		}
		eventID, err = outbox.Append(ctx, tx, tc, event.TypePrincipalRoleRevoked, event.PrincipalRoleRevoked{
			PrincipalID: principalID,
			RoleID:      r.RoleID,
			RoleName:    r.Name,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrLastOwner) {
			return fmt.Errorf("%w: %q", ErrLastOwner, role)
		}
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrTenantMismatch) {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return fmt.Errorf("revoke role: %w", err)
	}
	if eventID == "" {
		return nil
	}

	e.afterAppend(string(tc.ID()), eventID, event.TypePrincipalRoleRevoked)
	e.metricInc(metrics.RoleRevoked)
	e.emitAudit(ctx, auditEventRoleRevoked, true, principalID, string(tc.ID()), nil, func() map[string]string {
		return map[string]string{"role": string(role)}
	})
	return nil
}

// ListPrincipals returns the principals of tc's tenant.
func (e *Engine) ListPrincipals(ctx context.Context, tc tenant.Context) ([]Principal, error) {
	if e == nil || e.db == nil {
		return nil, ErrEngineNotReady
	}
	rows, err := e.db.Scoped(tc).ListPrincipals(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Principal, 0, len(rows))
	for _, p := range rows {
		out = append(out, Principal{
			PrincipalID: p.PrincipalID,
			TenantID:    p.TenantID,
			DisplayName: p.DisplayName,
			Email:       p.Email,
			CreatedAt:   p.CreatedAt,
		})
	}
	return out, nil
}

// checkGrant denies handing out role unless the acting credential's roles
// cover every permission it carries. Internal contexts are trusted.
func (e *Engine) checkGrant(ctx context.Context, tc tenant.Context, principalID string, role permission.Role) error {
	if !tc.Delegated() || e.roles.Covers(tc.Roles(), role) {
		return nil
	}
	e.metricInc(metrics.AuthorizeDenied)
	e.emitAudit(ctx, auditEventAccessDenied, false, tc.PrincipalID(), string(tc.ID()), ErrForbidden, func() map[string]string {
		return map[string]string{
			"role":   string(role),
			"target": principalID,
		}
	})
	return fmt.Errorf("%w: role %q exceeds the caller's permissions", ErrForbidden, role)
}

func (e *Engine) afterAppend(tenantID, eventID, eventType string) {
	e.metricInc(metrics.OutboxAppended)
	e.log.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"event_id":   eventID,
		"event_type": eventType,
	}).Debug("outbox record appended")
	e.notifyOutbox()
}
