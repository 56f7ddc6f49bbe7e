package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func auditorWithBuffer(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestAuditorLogsEvents(t *testing.T) {
	auditor, buf := auditorWithBuffer(true)

	auditor.LogAuthFailure("mindflow-client", "203.0.113.5", "invalid_client")

	out := buf.String()
	if !strings.Contains(out, "security_audit") {
		t.Errorf("output missing security_audit marker: %s", out)
	}
	if !strings.Contains(out, "auth_failure") {
		t.Errorf("output missing event type: %s", out)
	}
	if !strings.Contains(out, "mindflow-client") {
		t.Errorf("output missing client ID: %s", out)
	}
}

func TestAuditorHashesIPAddresses(t *testing.T) {
	auditor, buf := auditorWithBuffer(true)

	auditor.LogGateRejected("203.0.113.5", "missing bearer token")

	out := buf.String()
	if strings.Contains(out, "203.0.113.5") {
		t.Errorf("raw IP address leaked into audit log: %s", out)
	}
	if !strings.Contains(out, "ip_hash=") {
		t.Errorf("output missing hashed IP: %s", out)
	}
}

func TestAuditorDisabled(t *testing.T) {
	auditor, buf := auditorWithBuffer(false)

	auditor.LogTokenIssued("mindflow-client", "203.0.113.5", "authorization_code", "mcp")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote output: %s", buf.String())
	}
}

func TestAuditorNilSafe(t *testing.T) {
	var auditor *Auditor
	auditor.LogRateLimitExceeded("203.0.113.5", "/api/mcp/token")
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}
	h := hashForLogging("sensitive")
	if len(h) != 16 {
		t.Errorf("len(hash) = %d, want 16", len(h))
	}
	if h == hashForLogging("different") {
		t.Error("distinct inputs should hash differently")
	}
	if h != hashForLogging("sensitive") {
		t.Error("hash should be deterministic")
	}
}
