// Package jwt issues and validates tenant-scoped bearer credentials.
//
// Tokens carry pid, tid, roles, iss, aud, iat, exp and jti claims and a kid
// header. Validation reports an [Outcome]; callers treat every outcome other
// than [OutcomeValid] as unauthenticated.
//
// # Key rotation
//
// [Issuer.Rotate] installs a new signing key. The previous key moves to the
// retired set and keeps verifying until its retirement time plus the grace
// period (default: the credential lifetime). New credentials are only ever
// signed with the current key.
package jwt
