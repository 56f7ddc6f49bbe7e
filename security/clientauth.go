package security

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator verifies credentials for the single statically
// configured OAuth client. The server has exactly one client (the MCP
// client integration); there is no registration endpoint.
//
// The secret may be configured either as plaintext or as a bcrypt hash.
// When both are set the hash wins.
type Authenticator struct {
	clientID     string
	clientSecret string
	secretHash   []byte
}

// NewAuthenticator creates an Authenticator. clientSecretHash, if
// non-empty, must be a bcrypt hash of the client secret.
func NewAuthenticator(clientID, clientSecret, clientSecretHash string) *Authenticator {
	return &Authenticator{
		clientID:     clientID,
		clientSecret: clientSecret,
		secretHash:   []byte(clientSecretHash),
	}
}

// Verify reports whether the presented credentials match the configured
// client. It fails closed: if no client ID or no secret (in either
// form) is configured, every attempt is rejected.
//
// Comparisons use constant-time equality after a length check. The
// length check leaks credential length through timing, which is an
// accepted trade-off: lengths are not secret here, values are.
func (a *Authenticator) Verify(clientID, clientSecret string) bool {
	if a.clientID == "" {
		return false
	}
	if a.clientSecret == "" && len(a.secretHash) == 0 {
		return false
	}

	idOK := constantTimeEqual(clientID, a.clientID)

	var secretOK bool
	if len(a.secretHash) > 0 {
		secretOK = bcrypt.CompareHashAndPassword(a.secretHash, []byte(clientSecret)) == nil
	} else {
		secretOK = constantTimeEqual(clientSecret, a.clientSecret)
	}

	return idOK && secretOK
}

// ClientID returns the configured client identifier.
func (a *Authenticator) ClientID() string {
	return a.clientID
}

func constantTimeEqual(got, want string) bool {
	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
