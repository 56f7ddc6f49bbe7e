package mcpauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindflow-app/mcp-auth/instrumentation"
	"github.com/mindflow-app/mcp-auth/security"
	"github.com/mindflow-app/mcp-auth/server"
)

// Endpoint paths. All OAuth and MCP traffic lives under /api/mcp.
const (
	PathMCP              = "/api/mcp"
	PathAuthorize        = "/api/mcp/authorize"
	PathToken            = "/api/mcp/token"
	PathOAuthMetadata    = "/api/mcp/oauth-metadata"
	PathResourceMetadata = "/api/mcp/resource-metadata"
)

// Handler provides the HTTP surface of the authorization server: the
// OAuth endpoints, the discovery documents, and the bearer-token gate
// in front of the MCP endpoint.
type Handler struct {
	server  *server.Server
	logger  *slog.Logger
	limiter *security.RateLimiter
	auditor *security.Auditor
	inst    *instrumentation.Instrumentation

	trustProxy        bool
	trustedProxyCount int
}

// NewHandler creates a Handler around the given flow server. config
// may be nil for defaults (no rate limiting, no auditing, no proxy
// trust).
func NewHandler(srv *server.Server, config *Config) *Handler {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server:            srv,
		logger:            logger,
		inst:              config.Instrumentation,
		trustProxy:        config.TrustProxy,
		trustedProxyCount: config.TrustedProxyCount,
	}

	if config.RateLimit != nil {
		h.limiter = security.NewRateLimiter(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst, logger)
	}
	if config.AuditEnabled {
		h.auditor = security.NewAuditor(logger, true)
		srv.SetAuditor(h.auditor)
	}

	return h
}

// Close stops the handler's background resources.
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// Routes registers all endpoints on the mux. mcp is the MCP handler to
// protect; it only sees requests that carried a valid access token.
func (h *Handler) Routes(mux *http.ServeMux, mcp http.Handler) {
	mux.HandleFunc(PathAuthorize, h.ServeAuthorization)
	mux.HandleFunc(PathToken, h.ServeToken)
	mux.HandleFunc(PathOAuthMetadata, h.ServeOAuthMetadata)
	mux.HandleFunc(PathResourceMetadata, h.ServeResourceMetadata)
	mux.Handle(PathMCP, h.ServeMCP(mcp))
}

// ServeAuthorization handles GET /api/mcp/authorize.
//
// The resource owner's session is established upstream; a valid
// request immediately gets a signed authorization code on the redirect
// URL. Validation failures are plain-text 400 bodies naming the OAuth
// error code, since at that point no redirect URI can be trusted as a
// destination.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := h.startSpan(r, "oauth.authorize")
	defer endSpan(span)

	base := h.baseURL(r)
	security.SetSecurityHeaders(w, base)

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.allow(w, r, PathAuthorize) {
		h.recordHTTP(r, PathAuthorize, http.StatusTooManyRequests, start)
		return
	}

	q := r.URL.Query()
	redirect, ferr := h.server.Authorize(server.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		ClientIP:            h.clientIP(r),
	})
	if ferr != nil {
		instrumentation.SetSpanError(span, ferr.Code)
		h.flowMetric(ctx, h.authorizationCounter(), ferr.Code)
		h.recordHTTP(r, PathAuthorize, ferr.Status, start)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(ferr.Status)
		fmt.Fprint(w, ferr.Code)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.flowMetric(ctx, h.authorizationCounter(), "success")
	h.recordHTTP(r, PathAuthorize, http.StatusFound, start)

	http.Redirect(w, r, redirect, http.StatusFound)
}

// ServeToken handles POST /api/mcp/token for the authorization_code
// and refresh_token grants. CORS is fully permissive: browser-based
// MCP clients exchange codes cross-origin, and the endpoint is
// protected by client credentials rather than the origin.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := h.startSpan(r, "oauth.token")
	defer endSpan(span)

	security.SetSecurityHeaders(w, h.baseURL(r))
	setTokenCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		h.writeError(w, NewOAuthError(ErrorCodeInvalidRequest, "method not allowed", http.StatusMethodNotAllowed))
		return
	}

	if !h.allow(w, r, PathToken) {
		h.recordHTTP(r, PathToken, http.StatusTooManyRequests, start)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("malformed form body"))
		h.recordHTTP(r, PathToken, http.StatusBadRequest, start)
		return
	}

	clientIP := h.clientIP(r)
	grantType := r.PostFormValue("grant_type")

	var (
		grant   *server.TokenGrant
		ferr    *server.Error
		counter = h.codeExchangeCounter()
	)
	switch grantType {
	case "authorization_code":
		grant, ferr = h.server.Exchange(server.ExchangeRequest{
			Code:         r.PostFormValue("code"),
			CodeVerifier: r.PostFormValue("code_verifier"),
			ClientID:     r.PostFormValue("client_id"),
			ClientSecret: r.PostFormValue("client_secret"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			ClientIP:     clientIP,
		})
	case "refresh_token":
		counter = h.refreshCounter()
		grant, ferr = h.server.Refresh(server.RefreshRequest{
			RefreshToken: r.PostFormValue("refresh_token"),
			ClientID:     r.PostFormValue("client_id"),
			ClientSecret: r.PostFormValue("client_secret"),
			ClientIP:     clientIP,
		})
	default:
		h.writeError(w, ErrUnsupportedGrantType(""))
		h.recordHTTP(r, PathToken, http.StatusBadRequest, start)
		return
	}

	if ferr != nil {
		instrumentation.SetSpanError(span, ferr.Code)
		h.flowMetric(ctx, counter, ferr.Code)
		h.recordHTTP(r, PathToken, ferr.Status, start)
		h.writeError(w, NewOAuthError(ferr.Code, ferr.Description, ferr.Status))
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.flowMetric(ctx, counter, "success")
	h.recordHTTP(r, PathToken, http.StatusOK, start)

	h.logger.Info("token issued", "grant_type", grantType, "scope", grant.Scope)
	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  grant.AccessToken,
		TokenType:    grant.TokenType,
		ExpiresIn:    grant.ExpiresIn,
		RefreshToken: grant.RefreshToken,
		Scope:        grant.Scope,
	})
}

// ServeMCP wraps the MCP handler with the method dispatch of the MCP
// endpoint. POST goes through the bearer-token gate; the server is
// stateless, so GET streams and DELETE session teardown do not exist.
func (h *Handler) ServeMCP(mcp http.Handler) http.Handler {
	gated := h.RequireAccessToken(mcp)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			gated.ServeHTTP(w, r)
		case http.MethodGet:
			h.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method not allowed. Use POST for MCP requests.",
			})
		case http.MethodDelete:
			h.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method not allowed. Stateless mode — no sessions to delete.",
			})
		default:
			w.Header().Set("Allow", http.MethodPost)
			h.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method not allowed.",
			})
		}
	})
}

// RequireAccessToken is the resource gate: middleware that admits only
// requests bearing a valid, unexpired access token. Everything else
// gets a 401 JSON-RPC error and a WWW-Authenticate challenge pointing
// at the resource metadata, which is how MCP clients discover the
// authorization server.
func (h *Handler) RequireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.startSpan(r, "oauth.gate")
		defer endSpan(span)

		if !h.allow(w, r, PathMCP) {
			return
		}

		raw, err := extractBearerToken(r)
		if err != nil {
			h.rejectUnauthorized(w, r, "missing bearer token")
			instrumentation.SetSpanError(span, "missing bearer token")
			h.flowMetric(ctx, h.gateCounter(), "missing_token")
			return
		}

		if err := h.server.ValidateAccess(raw); err != nil {
			h.rejectUnauthorized(w, r, "invalid access token")
			instrumentation.RecordError(span, err)
			h.flowMetric(ctx, h.gateCounter(), "invalid_token")
			return
		}

		instrumentation.SetSpanSuccess(span)
		h.flowMetric(ctx, h.gateCounter(), "success")
		next.ServeHTTP(w, r)
	})
}

// ServeOAuthMetadata handles the RFC 8414 authorization server
// metadata endpoint.
func (h *Handler) ServeOAuthMetadata(w http.ResponseWriter, r *http.Request) {
	if !h.discoveryPreamble(w, r) {
		return
	}

	base := h.baseURL(r)
	h.writeJSON(w, http.StatusOK, AuthorizationServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + PathAuthorize,
		TokenEndpoint:                     base + PathToken,
		ResponseTypesSupported:            []string{"code"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post"},
		ScopesSupported:                   []string{server.DefaultScope},
	})
}

// ServeResourceMetadata handles the RFC 9728 protected resource
// metadata endpoint.
func (h *Handler) ServeResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if !h.discoveryPreamble(w, r) {
		return
	}

	base := h.baseURL(r)
	h.writeJSON(w, http.StatusOK, ProtectedResourceMetadata{
		Resource:             base + PathMCP,
		AuthorizationServers: []string{base},
		ScopesSupported:      []string{server.DefaultScope},
	})
}

// discoveryPreamble applies CORS and method handling shared by both
// discovery endpoints. It reports whether the caller should proceed to
// write the document.
func (h *Handler) discoveryPreamble(w http.ResponseWriter, r *http.Request) bool {
	setDiscoveryCORSHeaders(w)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return false
	case http.MethodGet:
		return true
	default:
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
}

// baseURL reconstructs the externally visible base URL for the
// request. The scheme comes from X-Forwarded-Proto when a proxy
// terminates TLS, defaulting to https so generated URLs never
// downgrade.
func (h *Handler) baseURL(r *http.Request) string {
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "https"
	}
	return proto + "://" + r.Host
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.trustProxy, h.trustedProxyCount)
}

// allow applies per-IP rate limiting. On a violation it writes the 429
// response and reports false.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if h.limiter == nil {
		return true
	}

	ip := h.clientIP(r)
	if h.limiter.Allow(ip) {
		return true
	}

	if h.auditor != nil {
		h.auditor.LogRateLimitExceeded(ip, endpoint)
	}
	if m := h.metrics(); m != nil {
		h.flowMetric(r.Context(), m.RateLimitExceeded, endpoint)
	}
	h.logger.Warn("rate limit exceeded", "endpoint", endpoint)

	w.Header().Set("Retry-After", "1")
	h.writeError(w, NewOAuthError(ErrorCodeRateLimitExceeded, "too many requests", http.StatusTooManyRequests))
	return false
}

// rejectUnauthorized writes the gate's 401 response: a JSON-RPC error
// envelope plus the WWW-Authenticate challenge required by the MCP
// authorization spec.
func (h *Handler) rejectUnauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	if h.auditor != nil {
		h.auditor.LogGateRejected(h.clientIP(r), reason)
	}
	h.logger.Debug("mcp request rejected", "reason", reason)

	base := h.baseURL(r)
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer resource_metadata=%q", base+PathResourceMetadata))
	h.writeJSON(w, http.StatusUnauthorized, JSONRPCErrorResponse{
		JSONRPC: "2.0",
		Error:   JSONRPCError{Code: JSONRPCCodeUnauthorized, Message: "Unauthorized"},
		ID:      nil,
	})
}

// extractBearerToken pulls the bearer token out of the Authorization
// header.
func extractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	return token, nil
}

func setTokenCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func setDiscoveryCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, MCP-Protocol-Version")
}

func (h *Handler) writeError(w http.ResponseWriter, e *OAuthError) {
	h.writeJSON(w, e.Status, ErrorResponse{Error: e.Code, ErrorDescription: e.Description})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("writing JSON response failed", "error", err)
	}
}

// Observability helpers. All of these tolerate a nil instrumentation
// so the handler works unconfigured.

func (h *Handler) startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	if h.inst == nil {
		return r.Context(), nil
	}
	return h.inst.Tracer("http").Start(r.Context(), name)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

func (h *Handler) metrics() *instrumentation.Metrics {
	if h.inst == nil {
		return nil
	}
	return h.inst.Metrics()
}

func (h *Handler) flowMetric(ctx context.Context, counter metric.Int64Counter, result string) {
	h.metrics().RecordFlowResult(ctx, counter, result)
}

func (h *Handler) recordHTTP(r *http.Request, endpoint string, status int, start time.Time) {
	h.metrics().RecordHTTPRequest(r.Context(), endpoint, r.Method, status,
		float64(time.Since(start).Microseconds())/1000.0)
}

func (h *Handler) authorizationCounter() metric.Int64Counter {
	if m := h.metrics(); m != nil {
		return m.AuthorizationRequests
	}
	return nil
}

func (h *Handler) codeExchangeCounter() metric.Int64Counter {
	if m := h.metrics(); m != nil {
		return m.CodeExchanged
	}
	return nil
}

func (h *Handler) refreshCounter() metric.Int64Counter {
	if m := h.metrics(); m != nil {
		return m.TokenRefreshed
	}
	return nil
}

func (h *Handler) gateCounter() metric.Int64Counter {
	if m := h.metrics(); m != nil {
		return m.GateRequestsTotal
	}
	return nil
}
