package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestID assigns every request a correlation id. Client-supplied
// X-Request-Id or X-Correlation-Id headers are honored so the trail can be
// stitched across services; otherwise a fresh uuid is generated. The id is
// echoed back in the X-Request-Id response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := extractRequestID(r)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// extractRequestID reads the correlation id headers, generating one when
// the client sent none
func extractRequestID(r *http.Request) string {
	for _, header := range []string{"X-Request-Id", "X-Correlation-Id"} {
		if value := r.Header.Get(header); value != "" {
			return value
		}
	}
	return uuid.NewString()
}
