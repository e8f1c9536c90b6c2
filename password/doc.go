// Package password derives and verifies salted password hashes.
//
// # Output format
//
// Hash returns a [Derived] pair. The salt is kept out of the encoded string and
// stored in its own column; the encoded string carries the scheme and cost
// parameters:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<key>
//	$pbkdf2-sha256$i=<iterations>$<key>
//
// [Hasher.NeedsUpgrade] returns true when a stored hash uses another scheme or
// weaker parameters, so the caller can re-hash on the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and persist the result.
//   - Import any other goIdentity package.
//   - Log plaintext passwords.
package password
