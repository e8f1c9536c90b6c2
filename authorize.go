package goIdentity

import (
	"fmt"
	"strings"

	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/metrics"
	"github.com/MrEthical07/goIdentity/permission"
)

type capabilityKind uint8

const (
	capRole capabilityKind = iota + 1
	capPermission
	capClaim
)

// Capability is a requirement a credential must meet. Build one with
// RequireRole, RequirePermission or RequireClaim.
type Capability struct {
	kind       capabilityKind
	role       permission.Role
	permission string
	claim      string
	predicate  func(string) bool
}

// RequireRole is met when the credential carries role.
func RequireRole(role permission.Role) Capability {
	return Capability{kind: capRole, role: role}
}

// RequirePermission is met when any of the credential's roles grants the
// named permission.
func RequirePermission(name string) Capability {
	return Capability{kind: capPermission, permission: name}
}

// RequireClaim is met when the named claim is present and predicate accepts
// its value. Supported claims: pid, tid, jti, kid, roles (comma-joined).
func RequireClaim(name string, predicate func(value string) bool) Capability {
	return Capability{kind: capClaim, claim: name, predicate: predicate}
}

func (c Capability) String() string {
	switch c.kind {
	case capRole:
		return "role:" + string(c.role)
	case capPermission:
		return "permission:" + c.permission
	case capClaim:
		return "claim:" + c.claim
	default:
		return "invalid"
	}
}

// Decision is the result of Authorize. A denial is terminal.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err returns nil for an allowed decision and an error wrapping
// ErrForbidden otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Authorize checks want against cred. It is a pure function of the credential
// and the role table; it performs no I/O.
func (e *Engine) Authorize(cred *jwt.Credential, want Capability) Decision {
	d := e.decide(cred, want)
	if d.Allowed {
		e.metricInc(metrics.AuthorizeAllowed)
	} else {
		e.metricInc(metrics.AuthorizeDenied)
	}
	return d
}

func (e *Engine) decide(cred *jwt.Credential, want Capability) Decision {
	if cred == nil {
		return deny("no credential")
	}

	switch want.kind {
	case capRole:
		if cred.HasRole(want.role) {
			return allow()
		}
		return deny("role %q required", want.role)
	case capPermission:
		if e == nil || e.roles == nil {
			return deny("no role table")
		}
		if e.roles.Allows(cred.Roles, want.permission) {
			return allow()
		}
		return deny("permission %q required", want.permission)
	case capClaim:
		value, ok := claimValue(cred, want.claim)
		if !ok {
			return deny("claim %q absent", want.claim)
		}
		if want.predicate == nil || !want.predicate(value) {
			return deny("claim %q rejected", want.claim)
		}
		return allow()
	default:
		return deny("invalid capability")
	}
}

func claimValue(cred *jwt.Credential, name string) (string, bool) {
	var v string
	switch name {
	case "pid", "sub":
		v = cred.PrincipalID
	case "tid":
		v = cred.TenantID
	case "jti":
		v = cred.TokenID
	case "kid":
		v = cred.KeyID
	case "roles":
		v = strings.Join(permission.RoleNames(cred.Roles), ",")
	default:
		return "", false
	}
	return v, v != ""
}
