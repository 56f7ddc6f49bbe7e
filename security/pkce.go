package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// VerifyS256 reports whether the PKCE code verifier matches the S256
// code challenge recorded at authorization time. Only the S256 method
// exists here; plain challenges are never accepted.
//
// The challenge is the base64url encoding (no padding) of the
// verifier's SHA-256 digest. Any verifier string hashes; shape
// enforcement belongs to the client that minted the pair, and a code
// bound to a challenge must stay redeemable with whatever verifier
// produced it.
func VerifyS256(verifier, challenge string) bool {
	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
