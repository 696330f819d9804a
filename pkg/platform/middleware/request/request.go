// Package request provides request ID and request time middleware shared by
// all routers.
package request

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"folio/pkg/requestcontext"
)

const headerRequestID = "X-Request-ID"

// ID assigns a request ID (honoring an inbound X-Request-ID header) and
// echoes it on the response for correlation.
func ID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(headerRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Time captures the current time at the start of the request so every
// operation within it observes the same "now".
func Time(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
