// Package testutil provides testing utilities and helpers for the
// mcp-auth library.
package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/oauth2"
)

// PKCEPair returns a fresh RFC 7636 code verifier and its S256
// challenge.
func PKCEPair() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	return verifier, oauth2.S256ChallengeFromVerifier(verifier)
}

// DecodeJSON unmarshals a recorded response body into v, failing the
// test on malformed JSON.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("response body is not valid JSON: %v\nbody: %s", err, w.Body.String())
	}
}

// QueryParam extracts a query parameter from a URL string, failing the
// test if the URL does not parse.
func QueryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("URL %q does not parse: %v", rawURL, err)
	}
	return u.Query().Get(key)
}
