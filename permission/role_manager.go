package permission

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownRole is returned when a role name is not in the registered set.
var ErrUnknownRole = errors.New("unknown role")

// RoleManager holds the closed set of roles and the permission mask granted
// to each. It is populated at startup and then frozen; afterwards it is a
// read-only lookup safe for concurrent use.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[Role]Mask64
	order  []Role
	frozen bool
}

// NewRoleManager returns an empty RoleManager backed by registry.
func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[Role]Mask64),
	}
}

// RegisterRole adds role to the closed set with the given permissions. An
// empty permission list is allowed; such a role is still usable in
// role-based checks.
func (rm *RoleManager) RegisterRole(role Role, permissionNames []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}

	if role == "" {
		return errors.New("role name empty")
	}

	if _, exists := rm.roles[role]; exists {
		return errors.New("role already registered")
	}

	var mask Mask64
	for _, perm := range permissionNames {
		bit, ok := rm.registry.Bit(perm)
		if !ok {
			return errors.New("permission not registered: " + perm)
		}
		mask.Set(bit)
	}

	rm.roles[role] = mask
	rm.order = append(rm.order, role)
	return nil
}

// GrantRoot gives role the reserved root bit.
func (rm *RoleManager) GrantRoot(role Role) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	bit, ok := rm.registry.RootBit()
	if !ok {
		return errors.New("root bit not reserved")
	}
	mask, exists := rm.roles[role]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	mask.Set(bit)
	rm.roles[role] = mask
	return nil
}

// Parse converts a wire name into a registered Role.
func (rm *RoleManager) Parse(name string) (Role, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	role := Role(name)
	if _, ok := rm.roles[role]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
	return role, nil
}

// ParseAll converts wire names into registered roles, failing on the first
// unknown name. Duplicates are collapsed.
func (rm *RoleManager) ParseAll(names []string) ([]Role, error) {
	seen := make(map[Role]struct{}, len(names))
	out := make([]Role, 0, len(names))
	for _, name := range names {
		role, err := rm.Parse(name)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out, nil
}

// Known reports whether role is registered.
func (rm *RoleManager) Known(role Role) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.roles[role]
	return ok
}

// GetMask returns the permission mask of role.
func (rm *RoleManager) GetMask(role Role) (Mask64, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	mask, ok := rm.roles[role]
	return mask, ok
}

// MaskFor unions the masks of roles. Unknown roles contribute nothing.
func (rm *RoleManager) MaskFor(roles []Role) Mask64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var mask Mask64
	for _, r := range roles {
		mask |= rm.roles[r]
	}
	return mask
}

// Allows reports whether any of roles grants the named permission.
func (rm *RoleManager) Allows(roles []Role, permissionName string) bool {
	bit, ok := rm.registry.Bit(permissionName)
	if !ok {
		return false
	}
	return rm.MaskFor(roles).Has(bit, rm.registry.RootReserved())
}

// Covers reports whether roles together hold every permission of target.
// Holders of the root bit cover every role; an unknown target is never
// covered.
func (rm *RoleManager) Covers(roles []Role, target Role) bool {
	want, ok := rm.GetMask(target)
	if !ok {
		return false
	}
	held := rm.MaskFor(roles)
	if bit, ok := rm.registry.RootBit(); ok && held&(1<<bit) != 0 {
		return true
	}
	return want&^held == 0
}

// IsRoot reports whether role carries the root bit.
func (rm *RoleManager) IsRoot(role Role) bool {
	mask, ok := rm.GetMask(role)
	if !ok {
		return false
	}
	bit, ok := rm.registry.RootBit()
	return ok && mask&(1<<bit) != 0
}

// Roles returns the registered roles in registration order.
func (rm *RoleManager) Roles() []Role {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]Role, len(rm.order))
	copy(out, rm.order)
	return out
}

// Freeze prevents further registrations and freezes the permission registry.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
	rm.registry.Freeze()
}

// Frozen reports whether Freeze has been called.
func (rm *RoleManager) Frozen() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.frozen
}

// Count returns the number of registered roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
