package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// Never attach actual credential values (tokens, codes, secrets,
// verifiers) to spans or metrics. Traces outlive requests, replicate
// across monitoring infrastructure, and reach wider audiences than the
// server itself. Attach metadata only: token kinds, error codes,
// boolean presence flags.
const (
	// OAuth flow attributes, metadata only
	AttrClientID     = "oauth.client_id"
	AttrGrantType    = "oauth.grant_type"
	AttrResponseType = "oauth.response_type"
	AttrScope        = "oauth.scope"
	AttrTokenKind    = "oauth.token.kind" //nolint:gosec // kind label, not a token value
	AttrError        = "oauth.error"
	AttrResult       = "oauth.result"

	// Security attributes
	AttrClientIP = "security.client_ip"

	// HTTP attributes
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with an error status (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe).
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe).
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe).
// Callers should consult Instrumentation.ShouldLogClientIPs first;
// IP addresses may be PII.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
