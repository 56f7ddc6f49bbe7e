package server

import (
	"net/http"
	"net/url"

	"github.com/mindflow-app/mcp-auth/internal/util"
	"github.com/mindflow-app/mcp-auth/security"
	"github.com/mindflow-app/mcp-auth/token"
)

// OAuth error codes used by the flows. Intentionally duplicated from
// the root package to avoid a circular import; keep in sync.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
)

// errorCodeUnsupportedChallengeMethod is the literal response body for
// a PKCE method other than S256.
const errorCodeUnsupportedChallengeMethod = "unsupported code_challenge_method"

// Error is an OAuth flow failure carrying the wire-level error code,
// an optional human-readable description, and the HTTP status.
type Error struct {
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

func invalidRequest(description string) *Error {
	return &Error{Code: ErrorCodeInvalidRequest, Description: description, Status: http.StatusBadRequest}
}

func invalidGrant(description string) *Error {
	return &Error{Code: ErrorCodeInvalidGrant, Description: description, Status: http.StatusBadRequest}
}

// AuthorizeRequest carries the query parameters of an authorization
// request, plus the client IP for auditing.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	ClientIP            string
}

// Authorize validates an authorization request and, on success,
// returns the redirect URL carrying a freshly signed authorization
// code (and the verbatim state, if any).
//
// The caller has already established the resource owner's session;
// this server issues the code without a consent step.
func (s *Server) Authorize(req AuthorizeRequest) (string, *Error) {
	if req.ResponseType != "code" {
		s.authFailure(req.ClientID, req.ClientIP, "unsupported response_type")
		return "", &Error{Code: ErrorCodeUnsupportedResponseType, Status: http.StatusBadRequest}
	}
	if req.ClientID == "" || req.ClientID != s.config.ClientID {
		s.authFailure(req.ClientID, req.ClientIP, "unknown client_id")
		return "", &Error{Code: ErrorCodeInvalidClient, Status: http.StatusBadRequest}
	}
	if req.RedirectURI == "" || req.CodeChallenge == "" {
		s.authFailure(req.ClientID, req.ClientIP, "missing redirect_uri or code_challenge")
		return "", invalidRequest("redirect_uri and code_challenge are required")
	}
	// S256 is the only supported method. An absent method parameter
	// defaults to S256; "plain" is never accepted.
	if req.CodeChallengeMethod != "" && req.CodeChallengeMethod != "S256" {
		s.authFailure(req.ClientID, req.ClientIP, "unsupported code_challenge_method")
		return "", &Error{Code: errorCodeUnsupportedChallengeMethod, Status: http.StatusBadRequest}
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		s.authFailure(req.ClientID, req.ClientIP, "unparseable redirect_uri")
		return "", invalidRequest("redirect_uri is not a valid URL")
	}

	code, err := s.codec.Sign(token.Claims{
		Kind:          token.KindCode,
		ExpiresAt:     s.expiry(s.config.CodeTTL),
		ClientID:      req.ClientID,
		RedirectURI:   req.RedirectURI,
		CodeChallenge: req.CodeChallenge,
	})
	if err != nil {
		s.logger.Error("signing authorization code failed", "error", err)
		return "", &Error{Code: "server_error", Status: http.StatusInternalServerError}
	}

	q := redirect.Query()
	q.Set("code", code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	redirect.RawQuery = q.Encode()

	if s.auditor != nil {
		s.auditor.LogCodeIssued(req.ClientID, req.ClientIP, req.RedirectURI)
	}
	s.logger.Debug("authorization code issued",
		"client_id", req.ClientID,
		"code_prefix", util.SafeTruncate(code, 12))

	return redirect.String(), nil
}

// ExchangeRequest carries the form parameters of an
// authorization_code token request.
type ExchangeRequest struct {
	Code         string
	CodeVerifier string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	ClientIP     string
}

// Exchange validates an authorization code grant and issues tokens.
// Checks run in a fixed order so clients see stable error codes:
// client credentials, code presence, code validity, client binding,
// redirect binding, PKCE.
func (s *Server) Exchange(req ExchangeRequest) (*TokenGrant, *Error) {
	if !s.clients.Verify(req.ClientID, req.ClientSecret) {
		s.authFailure(req.ClientID, req.ClientIP, "client authentication failed")
		return nil, &Error{Code: ErrorCodeInvalidClient, Status: http.StatusUnauthorized}
	}
	if req.Code == "" {
		s.authFailure(req.ClientID, req.ClientIP, "missing code")
		return nil, invalidRequest("missing code")
	}

	claims, err := s.codec.VerifyKind(req.Code, token.KindCode)
	if err != nil {
		s.authFailure(req.ClientID, req.ClientIP, "code rejected")
		s.logger.Debug("authorization code rejected",
			"error", err,
			"code_prefix", util.SafeTruncate(req.Code, 12))
		return nil, invalidGrant("invalid or expired code")
	}
	if claims.ClientID != req.ClientID {
		s.authFailure(req.ClientID, req.ClientIP, "client_id mismatch")
		return nil, invalidGrant("client_id mismatch")
	}
	if claims.RedirectURI != req.RedirectURI {
		s.authFailure(req.ClientID, req.ClientIP, "redirect_uri mismatch")
		return nil, invalidGrant("redirect_uri mismatch")
	}
	if req.CodeVerifier == "" || !security.VerifyS256(req.CodeVerifier, claims.CodeChallenge) {
		s.authFailure(req.ClientID, req.ClientIP, "PKCE verification failed")
		return nil, invalidGrant("PKCE verification failed")
	}

	grant, gerr := s.issueTokens()
	if gerr != nil {
		return nil, gerr
	}
	if s.auditor != nil {
		s.auditor.LogTokenIssued(req.ClientID, req.ClientIP, "authorization_code", grant.Scope)
	}
	return grant, nil
}

// RefreshRequest carries the form parameters of a refresh_token grant.
type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
	ClientIP     string
}

// Refresh validates a refresh token grant and issues a new token pair.
// Refresh tokens are not rotated out of circulation (there is no
// server-side state to revoke them with); the old token stays valid
// until its own expiry.
func (s *Server) Refresh(req RefreshRequest) (*TokenGrant, *Error) {
	if !s.clients.Verify(req.ClientID, req.ClientSecret) {
		s.authFailure(req.ClientID, req.ClientIP, "client authentication failed")
		return nil, &Error{Code: ErrorCodeInvalidClient, Status: http.StatusUnauthorized}
	}
	if req.RefreshToken == "" {
		s.authFailure(req.ClientID, req.ClientIP, "missing refresh_token")
		return nil, &Error{Code: ErrorCodeInvalidRequest, Status: http.StatusBadRequest}
	}

	if _, err := s.codec.VerifyKind(req.RefreshToken, token.KindRefresh); err != nil {
		s.authFailure(req.ClientID, req.ClientIP, "refresh token rejected")
		s.logger.Debug("refresh token rejected",
			"error", err,
			"token_prefix", util.SafeTruncate(req.RefreshToken, 12))
		return nil, &Error{Code: ErrorCodeInvalidGrant, Status: http.StatusBadRequest}
	}

	grant, gerr := s.issueTokens()
	if gerr != nil {
		return nil, gerr
	}
	if s.auditor != nil {
		s.auditor.LogTokenIssued(req.ClientID, req.ClientIP, "refresh_token", grant.Scope)
	}
	return grant, nil
}

// TokenGrant is a successful token issuance.
type TokenGrant struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scope        string
}

func (s *Server) issueTokens() (*TokenGrant, *Error) {
	access, err := s.codec.Sign(token.Claims{
		Kind:      token.KindAccess,
		ExpiresAt: s.expiry(s.config.AccessTokenTTL),
	})
	if err != nil {
		s.logger.Error("signing access token failed", "error", err)
		return nil, &Error{Code: "server_error", Status: http.StatusInternalServerError}
	}

	refresh, err := s.codec.Sign(token.Claims{
		Kind:      token.KindRefresh,
		ExpiresAt: s.expiry(s.config.RefreshTokenTTL),
	})
	if err != nil {
		s.logger.Error("signing refresh token failed", "error", err)
		return nil, &Error{Code: "server_error", Status: http.StatusInternalServerError}
	}

	return &TokenGrant{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTokenTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        s.config.Scope,
	}, nil
}

// ValidateAccess checks a bearer token for the resource gate: valid
// signature, unexpired, and of the access kind. Codes and refresh
// tokens never pass.
func (s *Server) ValidateAccess(raw string) error {
	_, err := s.codec.VerifyKind(raw, token.KindAccess)
	return err
}

func (s *Server) authFailure(clientID, clientIP, reason string) {
	if s.auditor != nil {
		s.auditor.LogAuthFailure(clientID, clientIP, reason)
	}
}
