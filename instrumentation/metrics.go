package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth flow
	AuthorizationRequests metric.Int64Counter
	CodeExchanged         metric.Int64Counter
	TokenRefreshed        metric.Int64Counter

	// Resource gate
	GateRequestsTotal metric.Int64Counter

	// Security
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.AuthorizationRequests, err = serverMeter.Int64Counter(
		"oauth.authorization.requests",
		metric.WithDescription("Number of authorization requests processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.requests counter: %w", err)
	}

	m.CodeExchanged, err = serverMeter.Int64Counter(
		"oauth.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = serverMeter.Int64Counter(
		"oauth.token.refreshed",
		metric.WithDescription("Number of tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.GateRequestsTotal, err = serverMeter.Int64Counter(
		"oauth.gate.requests.total",
		metric.WithDescription("Number of requests checked by the resource gate"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate.requests.total counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.PKCEValidationFailed, err = securityMeter.Int64Counter(
		"oauth.pkce.validation_failed",
		metric.WithDescription("Number of PKCE validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkce.validation_failed counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with its duration (nil-safe).
func (m *Metrics) RecordHTTPRequest(ctx context.Context, endpoint, method string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.String(AttrHTTPMethod, method),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordFlowResult adds one observation to a flow counter with a
// result attribute of "success" or the error code (nil-safe).
func (m *Metrics) RecordFlowResult(ctx context.Context, counter metric.Int64Counter, result string) {
	if m == nil || counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, result)))
}
