package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. Client
// IP addresses are logged as truncated SHA-256 hashes so events can be
// correlated without storing raw addresses.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"client_id", event.ClientID,
		"ip_hash", hashForLogging(event.IPAddress),
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogCodeIssued logs the issuance of an authorization code.
func (a *Auditor) LogCodeIssued(clientID, ipAddress, redirectURI string) {
	a.LogEvent(Event{
		Type:      "code_issued",
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"redirect_uri": redirectURI,
		},
	})
}

// LogTokenIssued logs the issuance of an access/refresh token pair.
func (a *Auditor) LogTokenIssued(clientID, ipAddress, grantType, scope string) {
	a.LogEvent(Event{
		Type:      "token_issued",
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogAuthFailure logs a failed authorization or token request.
func (a *Auditor) LogAuthFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "auth_failure",
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogGateRejected logs a rejected request to the protected resource.
func (a *Auditor) LogGateRejected(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "gate_rejected",
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
