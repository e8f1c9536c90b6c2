// Package store is the transactional relational store behind the identity
// core: principals, roles, the outbox and consumer dedup fences.
//
// Tenant-owned tables are reachable only through [Scoped], which attaches
// the tenant predicate to every statement it builds. The outbox dispatch and
// consumer fence methods on [DB] and [Tx] are the only cross-tenant paths;
// they address records by event id and never return business rows.
//
// PostgreSQL (lib/pq) is the production dialect; SQLite (mattn/go-sqlite3)
// serves embedded deployments and tests. Timestamps are stored as unix
// milliseconds so both dialects compare them the same way.
package store
