package server

import (
	"errors"
	"time"
)

// Token lifetime defaults. Codes are short-lived single-purpose
// credentials; refresh tokens stretch to a month so integrations
// survive idle periods.
const (
	DefaultCodeTTL         = 5 * time.Minute
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// DefaultScope is the single scope this server issues.
const DefaultScope = "mcp"

// Config holds the server configuration.
type Config struct {
	// SigningSecret is the HMAC-SHA256 secret all tokens are signed
	// with. Required; rotating it invalidates every outstanding token.
	SigningSecret string

	// ClientID identifies the single registered OAuth client.
	ClientID string

	// ClientSecret is the client's plaintext secret. Either this or
	// ClientSecretHash must be set.
	ClientSecret string

	// ClientSecretHash is an optional bcrypt hash of the client
	// secret, used instead of ClientSecret when set.
	ClientSecretHash string

	// Token lifetimes. Zero values take the defaults above.
	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Scope issued with every token grant. Defaults to DefaultScope.
	Scope string
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.SigningSecret == "" {
		return errors.New("server: SigningSecret is required")
	}
	if c.ClientID == "" {
		return errors.New("server: ClientID is required")
	}
	if c.ClientSecret == "" && c.ClientSecretHash == "" {
		return errors.New("server: ClientSecret or ClientSecretHash is required")
	}

	if c.CodeTTL == 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	return nil
}
