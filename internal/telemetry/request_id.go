package telemetry

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/italolelis/syncbox/internal/logctx"
)

const RequestIDHeader = "X-Request-ID"

// RequestID reuses an upstream X-Request-ID or mints one, echoes it on the
// response and stores it in the request context for the log handler.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(logctx.WithRequestID(r.Context(), requestID)))
	})
}
