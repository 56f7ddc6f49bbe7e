package server

import (
	"log/slog"
	"time"

	"github.com/mindflow-app/mcp-auth/security"
	"github.com/mindflow-app/mcp-auth/token"
)

// Server holds the OAuth flow logic: issuing authorization codes,
// exchanging them for tokens, refreshing tokens, and validating access
// tokens for the resource gate.
type Server struct {
	config  *Config
	codec   *token.Codec
	clients *security.Authenticator
	auditor *security.Auditor
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Server. The config is validated up front so a missing
// signing secret or client credential fails at startup.
func New(config *Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	codec, err := token.New(config.SigningSecret)
	if err != nil {
		return nil, err
	}

	return &Server{
		config:  config,
		codec:   codec,
		clients: security.NewAuthenticator(config.ClientID, config.ClientSecret, config.ClientSecretHash),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// SetAuditor attaches a security auditor. Optional.
func (s *Server) SetAuditor(auditor *security.Auditor) {
	s.auditor = auditor
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Codec returns the token codec, mainly for tests that need to mint
// tokens directly.
func (s *Server) Codec() *token.Codec {
	return s.codec
}

func (s *Server) expiry(ttl time.Duration) int64 {
	return s.now().Add(ttl).UnixMilli()
}
