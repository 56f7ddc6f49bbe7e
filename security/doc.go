// Package security provides the security primitives for the mindflow
// MCP authorization server: PKCE verification, client authentication,
// audit logging, per-IP rate limiting, request ID propagation, and
// secure response headers.
package security
