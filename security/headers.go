package security

import (
	"net/http"
	"strings"
)

// SetSecurityHeaders sets defensive headers on OAuth endpoint
// responses. The CSP is maximally strict: these endpoints serve JSON,
// plain text, and redirects, never markup that loads resources.
func SetSecurityHeaders(w http.ResponseWriter, baseURL string) {
	h := w.Header()

	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if strings.HasPrefix(baseURL, "https://") {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Tokens and codes must never land in shared caches.
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
}
