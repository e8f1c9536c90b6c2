// Package goIdentity is a tenant-scoped identity core: it authenticates
// principals, issues signed credentials carrying tenant and role claims,
// authorizes capabilities, and records every state change as an integration
// event in a transactional outbox.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goIdentity is the public surface. It exposes [Engine], [Builder], [Config]
// and value types. Components live in sub-packages:
//
//   - password: key derivation and verification, no I/O
//   - tenant: the per-request tenant context and scope predicate
//   - jwt: credential issuance, validation and key rotation
//   - permission: the closed role set and role-to-permission masks
//   - store: the only path to tenant-owned tables ([store.Scoped])
//   - outbox: append inside the caller's transaction, dispatch to the broker
//   - consumer: idempotent application of events from the broker
//   - broker: Redis Streams and in-memory transports
//
// Throttling and audit dispatch live under internal/ and are never exported.
//
// # Error contract
//
// Every token failure surfaces as [ErrUnauthenticated]; the specific
// validation outcome is logged and counted. Unknown principals and wrong
// passwords both surface as [ErrInvalidCredentials]. Capability denials
// surface as [ErrForbidden] through [Decision.Err].
//
// # Performance contract
//
// Validate and Authorize are the hot path: no store or Redis round-trips.
// Login performs one KDF derivation, two when the stored hash is upgraded.
package goIdentity
