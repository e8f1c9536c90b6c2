package goIdentity

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown principal and for a
	// wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated is returned for every rejected token. The specific
	// validation outcome is logged, never returned.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when a capability check denies a credential.
	ErrForbidden = errors.New("forbidden")
	// ErrLoginRateLimited is returned while a tenant+identifier pair is in
	// its login cooldown.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrLoginThrottleUnavailable is returned when the throttle backend
	// cannot be reached. Logins fail closed.
	ErrLoginThrottleUnavailable = errors.New("login throttle unavailable")
	// ErrPrincipalExists is returned when the email is taken in the tenant.
	ErrPrincipalExists = errors.New("principal already exists")
	// ErrPrincipalInvalid is returned for a registration with missing fields.
	ErrPrincipalInvalid = errors.New("invalid principal")
	// ErrPasswordPolicy is returned when a new password is too short.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrRoleExists is returned when the role name is taken in the tenant.
	ErrRoleExists = errors.New("role already exists")
	// ErrRoleInvalid is returned for a role name outside the registered set.
	ErrRoleInvalid = errors.New("invalid role")
	// ErrNotFound is returned when a principal or role is not visible in the
	// active tenant.
	ErrNotFound = errors.New("not found")
	// ErrLastOwner is returned when a revocation would leave the tenant
	// without a holder of the root role.
	ErrLastOwner = errors.New("tenant must keep an owner")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
