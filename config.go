package mcpauth

import (
	"log/slog"

	"github.com/mindflow-app/mcp-auth/instrumentation"
)

// RateLimitConfig configures per-IP rate limiting on the OAuth
// endpoints and the resource gate.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate per client IP.
	RequestsPerSecond int

	// Burst is the number of requests a client may send at once.
	Burst int
}

// Config holds the HTTP handler configuration.
type Config struct {
	// Logger for handler-level logging. Defaults to slog.Default().
	Logger *slog.Logger

	// TrustProxy enables honoring X-Forwarded-For and X-Real-IP when
	// extracting client IPs. Only set this behind a trusted reverse
	// proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of
	// the server, used to pick the client IP out of X-Forwarded-For.
	TrustedProxyCount int

	// RateLimit enables per-IP rate limiting when non-nil.
	RateLimit *RateLimitConfig

	// AuditEnabled turns on security audit logging.
	AuditEnabled bool

	// Instrumentation provides metrics and tracing. Optional; when nil
	// the handler records nothing.
	Instrumentation *instrumentation.Instrumentation
}
