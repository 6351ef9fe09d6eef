// Package auth holds the Hub's narrow auth-adjacent primitives.
// spec.md's Non-goals explicitly exclude multi-user tenancy or
// authentication at the hub — security rests on the pairing code,
// TLS, and device role — so this package is not a JWT/JWKS validator
// like the teacher's internal/v1/auth/validator.go. It keeps only the
// one thing that generalizes: constant-time comparison, reused for
// the Bridge's password gate (spec §4.8) and available to the Hub for
// any future shared-secret check.
package auth

import "crypto/subtle"

// ConstantTimeEqual reports whether a and b are equal without leaking
// timing information proportional to the length of a shared prefix.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
