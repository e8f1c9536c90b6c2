// Package tenant carries the tenant a unit of work runs as.
//
// A [Context] is resolved once per request from a validated credential and
// passed explicitly, or through [WithContext], to every downstream call. There
// is no process-wide current tenant.
//
// [ScopeFilter] produces the predicate that store.Scoped attaches to every
// tenant-owned query.
package tenant
