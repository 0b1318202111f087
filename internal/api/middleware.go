package api

import (
	"net/http"
	"strings"

	"github.com/dunamismax/facewarp/internal/id"
	"github.com/dunamismax/facewarp/internal/logging"
)

const maxRequestIDLength = 128

// withRequestID echoes a caller supplied X-Request-ID or assigns a new one, and
// stores it in the request context for logging.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = id.NewRequestID()
		}
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), requestID)))
	})
}
