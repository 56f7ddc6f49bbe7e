// Package mcpauth implements the embedded OAuth 2.0 authorization
// server that gates the mindflow MCP endpoint.
//
// The server issues self-encoded HMAC-signed authorization codes,
// access tokens, and refresh tokens for a single statically configured
// client, using the authorization code flow with mandatory PKCE
// (S256). It is fully stateless: no codes or tokens are stored, and
// validation needs only the signing secret.
//
// The root package provides the HTTP surface: the authorization and
// token endpoints, RFC 8414 / RFC 9728 discovery documents, and the
// bearer-token middleware protecting the MCP endpoint. Flow logic
// lives in the server package, token encoding in the token package,
// and security primitives in the security package.
//
// Basic usage:
//
//	srv, err := server.New(&server.Config{
//		SigningSecret: os.Getenv("AUTH_SECRET"),
//		ClientID:      os.Getenv("MCP_CLIENT_ID"),
//		ClientSecret:  os.Getenv("MCP_CLIENT_SECRET"),
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	handler := mcpauth.NewHandler(srv, &mcpauth.Config{Logger: logger})
//	mux := http.NewServeMux()
//	handler.Routes(mux, mcpHandler)
package mcpauth
