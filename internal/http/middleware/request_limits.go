package middleware

import (
	"net/http"
)

// RequestSizeLimit caps the request body at maxBytes. Attestation and
// assertion payloads are small; anything larger is not a ceremony message.
// A maxBytes of zero or less disables the cap.
func RequestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
