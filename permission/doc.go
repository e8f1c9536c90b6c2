// Package permission defines the closed role set, the permission registry and
// the 64-bit permission masks roles grant.
//
// # Lifecycle
//
// Permissions are registered on a [Registry], roles on a [RoleManager], then
// [RoleManager.Freeze] is called. After freezing, role names outside the
// registered set are rejected by [RoleManager.Parse], which is what issuance
// and credential parsing use.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import goIdentity or jwt.
package permission
