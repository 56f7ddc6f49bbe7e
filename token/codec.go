// Package token implements the self-encoded bearer tokens used by the
// authorization server. A token is the base64url-encoded JSON claims,
// a dot, and a base64url-encoded HMAC-SHA256 signature over the claims
// part. Tokens are stateless: everything needed to validate one is in
// the token itself plus the signing secret.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the three token types minted by the server.
// Authorization codes, access tokens, and refresh tokens share one wire
// format and one signing secret; the kind claim keeps them from being
// substituted for each other.
type Kind string

const (
	KindCode    Kind = "code"
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the signed token payload. ExpiresAt is epoch milliseconds.
// The binding fields are only set on authorization codes.
type Claims struct {
	Kind          Kind   `json:"type"`
	ExpiresAt     int64  `json:"exp"`
	ClientID      string `json:"client_id,omitempty"`
	RedirectURI   string `json:"redirect_uri,omitempty"`
	CodeChallenge string `json:"code_challenge,omitempty"`
}

// Verification failures, in the order Verify checks for them.
var (
	ErrMalformed    = errors.New("token: malformed token")
	ErrSignature    = errors.New("token: invalid signature")
	ErrExpired      = errors.New("token: token expired")
	ErrKindMismatch = errors.New("token: unexpected token type")
)

// Codec signs and verifies tokens with a single HMAC-SHA256 secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// New creates a Codec. An empty secret is refused so a misconfigured
// deployment fails at startup instead of minting forgeable tokens.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token: signing secret is required")
	}
	return &Codec{secret: []byte(secret), now: time.Now}, nil
}

// NewWithClock is New with an injectable clock for expiry tests.
func NewWithClock(secret string, now func() time.Time) (*Codec, error) {
	c, err := New(secret)
	if err != nil {
		return nil, err
	}
	if now != nil {
		c.now = now
	}
	return c, nil
}

// Sign encodes and signs the claims. Every minted token carries an
// expiry and a kind; Sign rejects claims missing either.
func (c *Codec) Sign(claims Claims) (string, error) {
	if claims.Kind == "" {
		return "", errors.New("token: claims missing kind")
	}
	if claims.ExpiresAt <= 0 {
		return "", errors.New("token: claims missing expiry")
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: encoding claims: %w", err)
	}

	data := base64.RawURLEncoding.EncodeToString(payload)
	return data + "." + c.sign(data), nil
}

// Verify checks a raw token and returns its claims. Failures are
// reported in a fixed order: structure, signature, payload decoding,
// expiry. A token with a zero expiry claim never expires; the signer
// always sets one, so this only arises for tokens minted elsewhere
// against the same secret.
func (c *Codec) Verify(raw string) (*Claims, error) {
	data, sig, ok := strings.Cut(raw, ".")
	if !ok || data == "" || sig == "" {
		return nil, ErrMalformed
	}

	if !hmac.Equal([]byte(c.sign(data)), []byte(sig)) {
		return nil, ErrSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if claims.ExpiresAt > 0 && c.now().UnixMilli() > claims.ExpiresAt {
		return nil, ErrExpired
	}

	return &claims, nil
}

// VerifyKind is Verify plus a token type check. The token endpoint and
// the resource gate each accept exactly one kind; a valid access token
// presented as a code (or the reverse) fails here.
func (c *Codec) VerifyKind(raw string, kind Kind) (*Claims, error) {
	claims, err := c.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrKindMismatch, claims.Kind, kind)
	}
	return claims, nil
}

func (c *Codec) sign(data string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
