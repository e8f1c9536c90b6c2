package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/event"
	"github.com/MrEthical07/goIdentity/store"
	"github.com/MrEthical07/goIdentity/tenant"
)

// DirectoryHandlers project principal events into the principal_directory
// read model.
func DirectoryHandlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		event.TypePrincipalCreated:      applyPrincipalCreated,
		event.TypePrincipalRoleAssigned: applyRoleAssigned,
		event.TypePrincipalRoleRevoked:  applyRoleRevoked,
	}
}

// RegisterDirectory registers DirectoryHandlers on c.
func RegisterDirectory(c *Consumer) {
	for eventType, h := range DirectoryHandlers() {
		c.Register(eventType, h)
	}
}

func applyPrincipalCreated(ctx context.Context, tx *store.Tx, tc tenant.Context, env event.Envelope) error {
	var p event.PrincipalCreated
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	if p.PrincipalID == "" {
		return Permanent(errors.New("principal.created without principal_id"))
	}
	return tx.Scoped(tc).UpsertDirectoryEntry(ctx, store.DirectoryEntry{
		PrincipalID: p.PrincipalID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		UpdatedAt:   env.OccurredAt,
	})
}

// A missing directory entry is retried: the principal.created delivery may
// have been nacked and still be awaiting redelivery.
func applyRoleAssigned(ctx context.Context, tx *store.Tx, tc tenant.Context, env event.Envelope) error {
	var a event.PrincipalRoleAssigned
	if err := env.DecodePayload(&a); err != nil {
		return err
	}
	if a.PrincipalID == "" || a.RoleName == "" {
		return Permanent(errors.New("principal.role_assigned without principal_id or role_name"))
	}
	if err := tx.Scoped(tc).AppendDirectoryRole(ctx, a.PrincipalID, a.RoleName, env.OccurredAt); err != nil {
		return fmt.Errorf("directory role %s: %w", a.PrincipalID, err)
	}
	return nil
}

func applyRoleRevoked(ctx context.Context, tx *store.Tx, tc tenant.Context, env event.Envelope) error {
	var r event.PrincipalRoleRevoked
	if err := env.DecodePayload(&r); err != nil {
		return err
	}
	if r.PrincipalID == "" || r.RoleName == "" {
		return Permanent(errors.New("principal.role_revoked without principal_id or role_name"))
	}
	if err := tx.Scoped(tc).RemoveDirectoryRole(ctx, r.PrincipalID, r.RoleName, env.OccurredAt); err != nil {
		return fmt.Errorf("directory role %s: %w", r.PrincipalID, err)
	}
	return nil
}
