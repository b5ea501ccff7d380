// Package middleware provides HTTP middleware for EventForge.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/EventForge/internal/logger"
)

const headerRequestID = "X-Request-ID"

// maxRequestIDLen bounds a client-supplied id before it reaches the logs.
const maxRequestIDLen = 128

// RequestID takes X-Request-ID from the request or generates one, stores it
// in the context for logging and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
