// Package password implements password hashing and verification with
// argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports whether a stored hash was produced with
// weaker parameters than the current configuration so callers can re-hash
// on the next successful login.
//
// The package owns hashing and verification only; password policy and
// storage belong to the caller. Plaintext never leaves the call stack.
package password
