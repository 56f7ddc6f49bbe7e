// Package server implements the core OAuth 2.0 flow logic for the
// mindflow MCP authorization server.
//
// The server is deliberately stateless: authorization codes, access
// tokens, and refresh tokens are all self-encoded HMAC-signed values
// (token package), so no storage backend exists. A single static
// client is configured up front; there is no registration endpoint.
//
// The Server type holds flow logic only. HTTP concerns (routing, CORS,
// discovery documents, the resource gate) live in the root package.
package server
