// Package middleware adapts goIdentity.Engine to net/http.
//
// # Guards
//
//   - [Guard]: validates the bearer credential and installs the tenant context.
//   - [Require]: enforces one capability on an already guarded route.
//   - [ClientIP]: records the caller address for the login throttle.
//   - [RateLimit]: per-address token bucket in front of the public routes.
//
// Every token failure answers 401 without detail; the engine logs the
// specific outcome. Capability denials answer 403.
//
// This package translates HTTP semantics into Engine calls and makes no
// authentication or authorization decision of its own.
package middleware
