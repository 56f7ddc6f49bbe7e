package mcpauth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/mindflow-app/mcp-auth/internal/testutil"
	"github.com/mindflow-app/mcp-auth/server"
)

const (
	testHost         = "mindflow.example.com"
	testClientID     = "mindflow-client"
	testClientSecret = "test-client-secret"
	testRedirectURI  = "https://client.example.com/callback"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, config *Config) *Handler {
	t.Helper()
	srv, err := server.New(&server.Config{
		SigningSecret: "test-signing-secret",
		ClientID:      testClientID,
		ClientSecret:  testClientSecret,
	}, testLogger())
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = testLogger()
	}
	h := NewHandler(srv, config)
	t.Cleanup(h.Close)
	return h
}

func authorizeURL(challenge, state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", testClientID)
	q.Set("redirect_uri", testRedirectURI)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	if state != "" {
		q.Set("state", state)
	}
	return "https://" + testHost + PathAuthorize + "?" + q.Encode()
}

// obtainCode drives the authorization endpoint and returns the issued
// code.
func obtainCode(t *testing.T, h *Handler, challenge string) string {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, authorizeURL(challenge, "st"), nil)
	w := httptest.NewRecorder()
	h.ServeAuthorization(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want 302; body: %s", w.Code, w.Body.String())
	}
	code := testutil.QueryParam(t, w.Header().Get("Location"), "code")
	if code == "" {
		t.Fatal("redirect is missing the code parameter")
	}
	return code
}

func postToken(h *Handler, form url.Values) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "https://"+testHost+PathToken,
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeToken(w, r)
	return w
}

func exchangeForm(code, verifier string) url.Values {
	return url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"redirect_uri":  {testRedirectURI},
	}
}

func TestServeAuthorizationSuccess(t *testing.T) {
	h := newTestHandler(t, nil)
	_, challenge := testutil.PKCEPair()

	r := httptest.NewRequest(http.MethodGet, authorizeURL(challenge, "opaque-state"), nil)
	w := httptest.NewRecorder()
	h.ServeAuthorization(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	location := w.Header().Get("Location")
	if !strings.HasPrefix(location, testRedirectURI+"?") {
		t.Errorf("Location = %q, want prefix %q", location, testRedirectURI+"?")
	}
	if got := testutil.QueryParam(t, location, "state"); got != "opaque-state" {
		t.Errorf("state = %q, want opaque-state", got)
	}
	if testutil.QueryParam(t, location, "code") == "" {
		t.Error("redirect is missing the code parameter")
	}
}

func TestServeAuthorizationErrors(t *testing.T) {
	h := newTestHandler(t, nil)
	_, challenge := testutil.PKCEPair()

	base := url.Values{
		"response_type":         {"code"},
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}

	tests := []struct {
		name     string
		mutate   func(url.Values)
		wantBody string
	}{
		{
			name:     "wrong response type",
			mutate:   func(q url.Values) { q.Set("response_type", "token") },
			wantBody: "unsupported_response_type",
		},
		{
			name:     "unknown client",
			mutate:   func(q url.Values) { q.Set("client_id", "other") },
			wantBody: "invalid_client",
		},
		{
			name:     "missing redirect uri",
			mutate:   func(q url.Values) { q.Del("redirect_uri") },
			wantBody: "invalid_request",
		},
		{
			name:     "missing code challenge",
			mutate:   func(q url.Values) { q.Del("code_challenge") },
			wantBody: "invalid_request",
		},
		{
			name:     "plain challenge method",
			mutate:   func(q url.Values) { q.Set("code_challenge_method", "plain") },
			wantBody: "unsupported code_challenge_method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := url.Values{}
			for k, v := range base {
				q[k] = v
			}
			tt.mutate(q)

			r := httptest.NewRequest(http.MethodGet, "https://"+testHost+PathAuthorize+"?"+q.Encode(), nil)
			w := httptest.NewRecorder()
			h.ServeAuthorization(w, r)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("Content-Type = %q, want text/plain", ct)
			}
			if got := w.Body.String(); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestServeAuthorizationMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, nil)

	r := httptest.NewRequest(http.MethodPost, "https://"+testHost+PathAuthorize, nil)
	w := httptest.NewRecorder()
	h.ServeAuthorization(w, r)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestServeAuthorizationSetsSecurityHeaders(t *testing.T) {
	h := newTestHandler(t, nil)
	_, challenge := testutil.PKCEPair()

	r := httptest.NewRequest(http.MethodGet, authorizeURL(challenge, ""), nil)
	w := httptest.NewRecorder()
	h.ServeAuthorization(w, r)

	if got := w.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestServeTokenOptions(t *testing.T) {
	h := newTestHandler(t, nil)

	r := httptest.NewRequest(http.MethodOptions, "https://"+testHost+PathToken, nil)
	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
		t.Errorf("Access-Control-Allow-Methods = %q, want POST, OPTIONS", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type" {
		t.Errorf("Access-Control-Allow-Headers = %q, want Content-Type", got)
	}
}

func TestServeTokenExchange(t *testing.T) {
	h := newTestHandler(t, nil)
	verifier, challenge := testutil.PKCEPair()
	code := obtainCode(t, h, challenge)

	w := postToken(h, exchangeForm(code, verifier))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}

	var resp TokenResponse
	testutil.DecodeJSON(t, w, &resp)
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Error("response is missing tokens")
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", resp.TokenType)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", resp.ExpiresIn)
	}
	if resp.Scope != "mcp" {
		t.Errorf("scope = %q, want mcp", resp.Scope)
	}
}

func TestServeTokenErrors(t *testing.T) {
	h := newTestHandler(t, nil)
	verifier, challenge := testutil.PKCEPair()
	code := obtainCode(t, h, challenge)

	tests := []struct {
		name            string
		mutate          func(url.Values)
		wantStatus      int
		wantError       string
		wantDescription string
	}{
		{
			name:       "unsupported grant type",
			mutate:     func(f url.Values) { f.Set("grant_type", "password") },
			wantStatus: 400,
			wantError:  "unsupported_grant_type",
		},
		{
			name:       "missing grant type",
			mutate:     func(f url.Values) { f.Del("grant_type") },
			wantStatus: 400,
			wantError:  "unsupported_grant_type",
		},
		{
			name:       "bad client secret",
			mutate:     func(f url.Values) { f.Set("client_secret", "wrong") },
			wantStatus: 401,
			wantError:  "invalid_client",
		},
		{
			name:            "missing code",
			mutate:          func(f url.Values) { f.Del("code") },
			wantStatus:      400,
			wantError:       "invalid_request",
			wantDescription: "missing code",
		},
		{
			name:            "garbage code",
			mutate:          func(f url.Values) { f.Set("code", "garbage") },
			wantStatus:      400,
			wantError:       "invalid_grant",
			wantDescription: "invalid or expired code",
		},
		{
			name:            "redirect mismatch",
			mutate:          func(f url.Values) { f.Set("redirect_uri", "https://evil.example.com/cb") },
			wantStatus:      400,
			wantError:       "invalid_grant",
			wantDescription: "redirect_uri mismatch",
		},
		{
			name:            "wrong verifier",
			mutate:          func(f url.Values) { f.Set("code_verifier", "wrong-verifier-wrong-verifier-wrong-verifier-wr") },
			wantStatus:      400,
			wantError:       "invalid_grant",
			wantDescription: "PKCE verification failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := exchangeForm(code, verifier)
			tt.mutate(form)

			w := postToken(h, form)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("error response is missing CORS headers")
			}

			var resp ErrorResponse
			testutil.DecodeJSON(t, w, &resp)
			if resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
			if tt.wantDescription != "" && resp.ErrorDescription != tt.wantDescription {
				t.Errorf("error_description = %q, want %q", resp.ErrorDescription, tt.wantDescription)
			}
		})
	}
}

func TestWriteErrorFromOAuthError(t *testing.T) {
	h := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.writeError(w, ErrInvalidRequest("malformed form body"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var resp ErrorResponse
	testutil.DecodeJSON(t, w, &resp)
	if resp.Error != ErrorCodeInvalidRequest {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidRequest)
	}
	if resp.ErrorDescription != "malformed form body" {
		t.Errorf("error_description = %q", resp.ErrorDescription)
	}
}

func TestServeTokenRefresh(t *testing.T) {
	h := newTestHandler(t, nil)
	verifier, challenge := testutil.PKCEPair()
	code := obtainCode(t, h, challenge)

	w := postToken(h, exchangeForm(code, verifier))
	var first TokenResponse
	testutil.DecodeJSON(t, w, &first)

	w = postToken(h, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {first.RefreshToken},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	var refreshed TokenResponse
	testutil.DecodeJSON(t, w, &refreshed)
	if refreshed.AccessToken == "" || refreshed.RefreshToken == "" {
		t.Error("refresh response is missing tokens")
	}

	// The access token from a refresh must pass the gate.
	if err := h.server.ValidateAccess(refreshed.AccessToken); err != nil {
		t.Errorf("refreshed access token does not validate: %v", err)
	}
}

func TestServeTokenRefreshRejectsAccessToken(t *testing.T) {
	h := newTestHandler(t, nil)
	verifier, challenge := testutil.PKCEPair()
	code := obtainCode(t, h, challenge)

	w := postToken(h, exchangeForm(code, verifier))
	var grant TokenResponse
	testutil.DecodeJSON(t, w, &grant)

	w = postToken(h, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {grant.AccessToken},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var resp ErrorResponse
	testutil.DecodeJSON(t, w, &resp)
	if resp.Error != "invalid_grant" {
		t.Errorf("error = %q, want invalid_grant", resp.Error)
	}
}

func TestRequireAccessToken(t *testing.T) {
	h := newTestHandler(t, nil)
	verifier, challenge := testutil.PKCEPair()
	code := obtainCode(t, h, challenge)

	w := postToken(h, exchangeForm(code, verifier))
	var grant TokenResponse
	testutil.DecodeJSON(t, w, &grant)

	var reached bool
	gate := h.RequireAccessToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"no header", "", 401},
		{"not a bearer scheme", "Basic dXNlcjpwYXNz", 401},
		{"empty bearer", "Bearer ", 401},
		{"garbage token", "Bearer garbage", 401},
		{"code as bearer", "Bearer " + code, 401},
		{"refresh as bearer", "Bearer " + grant.RefreshToken, 401},
		{"valid access token", "Bearer " + grant.AccessToken, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = false
			r := httptest.NewRequest(http.MethodPost, "https://"+testHost+PathMCP, strings.NewReader("{}"))
			if tt.authHeader != "" {
				r.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			gate.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == 200 && !reached {
				t.Error("inner handler was not reached")
			}
			if tt.wantStatus == 401 {
				if reached {
					t.Error("inner handler was reached on a rejected request")
				}
				wantChallenge := `Bearer resource_metadata="https://` + testHost + PathResourceMetadata + `"`
				if got := w.Header().Get("WWW-Authenticate"); got != wantChallenge {
					t.Errorf("WWW-Authenticate = %q, want %q", got, wantChallenge)
				}

				var resp JSONRPCErrorResponse
				testutil.DecodeJSON(t, w, &resp)
				if resp.JSONRPC != "2.0" {
					t.Errorf("jsonrpc = %q, want 2.0", resp.JSONRPC)
				}
				if resp.Error.Code != JSONRPCCodeUnauthorized {
					t.Errorf("error code = %d, want %d", resp.Error.Code, JSONRPCCodeUnauthorized)
				}
				if resp.Error.Message != "Unauthorized" {
					t.Errorf("error message = %q, want Unauthorized", resp.Error.Message)
				}
				if resp.ID != nil {
					t.Errorf("id = %v, want null", resp.ID)
				}
			}
		})
	}
}

func TestServeMCPMethodHandling(t *testing.T) {
	h := newTestHandler(t, nil)
	mcp := h.ServeMCP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		method   string
		wantBody string
	}{
		{http.MethodGet, "Method not allowed. Use POST for MCP requests."},
		{http.MethodDelete, "Method not allowed. Stateless mode — no sessions to delete."},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "https://"+testHost+PathMCP, nil)
			w := httptest.NewRecorder()
			mcp.ServeHTTP(w, r)

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want 405", w.Code)
			}
			var resp map[string]string
			testutil.DecodeJSON(t, w, &resp)
			if resp["error"] != tt.wantBody {
				t.Errorf("error = %q, want %q", resp["error"], tt.wantBody)
			}
		})
	}
}

func TestServeOAuthMetadata(t *testing.T) {
	h := newTestHandler(t, nil)

	r := httptest.NewRequest(http.MethodGet, "https://"+testHost+PathOAuthMetadata, nil)
	w := httptest.NewRecorder()
	h.ServeOAuthMetadata(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, MCP-Protocol-Version" {
		t.Errorf("Access-Control-Allow-Headers = %q", got)
	}

	var meta AuthorizationServerMetadata
	testutil.DecodeJSON(t, w, &meta)

	base := "https://" + testHost
	if meta.Issuer != base {
		t.Errorf("issuer = %q, want %q", meta.Issuer, base)
	}
	if meta.AuthorizationEndpoint != base+PathAuthorize {
		t.Errorf("authorization_endpoint = %q", meta.AuthorizationEndpoint)
	}
	if meta.TokenEndpoint != base+PathToken {
		t.Errorf("token_endpoint = %q", meta.TokenEndpoint)
	}
	assertEqualSlice(t, "response_types_supported", meta.ResponseTypesSupported, []string{"code"})
	assertEqualSlice(t, "code_challenge_methods_supported", meta.CodeChallengeMethodsSupported, []string{"S256"})
	assertEqualSlice(t, "grant_types_supported", meta.GrantTypesSupported, []string{"authorization_code", "refresh_token"})
	assertEqualSlice(t, "token_endpoint_auth_methods_supported", meta.TokenEndpointAuthMethodsSupported, []string{"client_secret_post"})
	assertEqualSlice(t, "scopes_supported", meta.ScopesSupported, []string{"mcp"})
}

func TestServeResourceMetadata(t *testing.T) {
	h := newTestHandler(t, nil)

	r := httptest.NewRequest(http.MethodGet, "https://"+testHost+PathResourceMetadata, nil)
	w := httptest.NewRecorder()
	h.ServeResourceMetadata(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var meta ProtectedResourceMetadata
	testutil.DecodeJSON(t, w, &meta)

	base := "https://" + testHost
	if meta.Resource != base+PathMCP {
		t.Errorf("resource = %q, want %q", meta.Resource, base+PathMCP)
	}
	assertEqualSlice(t, "authorization_servers", meta.AuthorizationServers, []string{base})
	assertEqualSlice(t, "scopes_supported", meta.ScopesSupported, []string{"mcp"})
}

func TestDiscoveryOptions(t *testing.T) {
	h := newTestHandler(t, nil)

	for _, serve := range []struct {
		name    string
		handler http.HandlerFunc
		path    string
	}{
		{"oauth metadata", h.ServeOAuthMetadata, PathOAuthMetadata},
		{"resource metadata", h.ServeResourceMetadata, PathResourceMetadata},
	} {
		t.Run(serve.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodOptions, "https://"+testHost+serve.path, nil)
			w := httptest.NewRecorder()
			serve.handler(w, r)

			if w.Code != http.StatusNoContent {
				t.Errorf("status = %d, want 204", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
			}
		})
	}
}

func TestBaseURLRespectsForwardedProto(t *testing.T) {
	h := newTestHandler(t, nil)

	r := httptest.NewRequest(http.MethodGet, "http://localhost:3000"+PathOAuthMetadata, nil)
	r.Header.Set("X-Forwarded-Proto", "http")
	w := httptest.NewRecorder()
	h.ServeOAuthMetadata(w, r)

	var meta AuthorizationServerMetadata
	testutil.DecodeJSON(t, w, &meta)
	if meta.Issuer != "http://localhost:3000" {
		t.Errorf("issuer = %q, want http://localhost:3000", meta.Issuer)
	}

	// Without the header the scheme defaults to https.
	r = httptest.NewRequest(http.MethodGet, "http://localhost:3000"+PathOAuthMetadata, nil)
	w = httptest.NewRecorder()
	h.ServeOAuthMetadata(w, r)
	testutil.DecodeJSON(t, w, &meta)
	if meta.Issuer != "https://localhost:3000" {
		t.Errorf("issuer = %q, want https://localhost:3000", meta.Issuer)
	}
}

func TestTokenEndpointRateLimit(t *testing.T) {
	h := newTestHandler(t, &Config{RateLimit: &RateLimitConfig{RequestsPerSecond: 1, Burst: 1}})

	form := url.Values{"grant_type": {"refresh_token"}}
	if w := postToken(h, form); w.Code == http.StatusTooManyRequests {
		t.Fatal("first request should not be rate limited")
	}

	w := postToken(h, form)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	var resp ErrorResponse
	testutil.DecodeJSON(t, w, &resp)
	if resp.Error != ErrorCodeRateLimitExceeded {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeRateLimitExceeded)
	}
}

// TestFullFlow exercises the complete journey a real MCP client takes:
// discovery, authorization, code exchange, gated access, refresh.
func TestFullFlow(t *testing.T) {
	h := newTestHandler(t, &Config{AuditEnabled: true})

	mux := http.NewServeMux()
	h.Routes(mux, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":{},"id":1}`))
	}))

	// 1. Hitting the MCP endpoint without a token yields the challenge.
	r := httptest.NewRequest(http.MethodPost, "https://"+testHost+PathMCP, strings.NewReader("{}"))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated MCP status = %d, want 401", w.Code)
	}

	// 2. The challenge points at the resource metadata.
	metadataURL := strings.TrimSuffix(strings.TrimPrefix(w.Header().Get("WWW-Authenticate"), `Bearer resource_metadata="`), `"`)
	r = httptest.NewRequest(http.MethodGet, metadataURL, nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	var resourceMeta ProtectedResourceMetadata
	testutil.DecodeJSON(t, w, &resourceMeta)

	// 3. The authorization server metadata names the endpoints.
	r = httptest.NewRequest(http.MethodGet, resourceMeta.AuthorizationServers[0]+PathOAuthMetadata, nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	var asMeta AuthorizationServerMetadata
	testutil.DecodeJSON(t, w, &asMeta)

	// 4. Authorize with PKCE.
	verifier, challenge := testutil.PKCEPair()
	r = httptest.NewRequest(http.MethodGet, authorizeURL(challenge, "flow-state"), nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want 302", w.Code)
	}
	location := w.Header().Get("Location")
	code := testutil.QueryParam(t, location, "code")
	if got := testutil.QueryParam(t, location, "state"); got != "flow-state" {
		t.Fatalf("state = %q, want flow-state", got)
	}

	// 5. Exchange the code.
	r = httptest.NewRequest(http.MethodPost, asMeta.TokenEndpoint, strings.NewReader(exchangeForm(code, verifier).Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("exchange status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var grant TokenResponse
	testutil.DecodeJSON(t, w, &grant)

	// 6. The access token opens the gate.
	r = httptest.NewRequest(http.MethodPost, "https://"+testHost+PathMCP, strings.NewReader("{}"))
	r.Header.Set("Authorization", "Bearer "+grant.AccessToken)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("gated MCP status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	// 7. Refresh and use the new access token.
	r = httptest.NewRequest(http.MethodPost, asMeta.TokenEndpoint, strings.NewReader(url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {grant.RefreshToken},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", w.Code)
	}
	var refreshed TokenResponse
	testutil.DecodeJSON(t, w, &refreshed)

	r = httptest.NewRequest(http.MethodPost, "https://"+testHost+PathMCP, strings.NewReader("{}"))
	r.Header.Set("Authorization", "Bearer "+refreshed.AccessToken)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("gated MCP status after refresh = %d, want 200", w.Code)
	}
}

func assertEqualSlice(t *testing.T, name string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s = %v, want %v", name, got, want)
		return
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s = %v, want %v", name, got, want)
			return
		}
	}
}
