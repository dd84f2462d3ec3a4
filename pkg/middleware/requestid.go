package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/darpa-sail-on/docsearch/pkg/logger"
	"github.com/darpa-sail-on/docsearch/pkg/tracing"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID takes the caller's X-Request-ID (or generates one), echoes it
// on the response and stores it in the context for logging. It also opens
// the request's root trace span.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = newRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := logger.WithRequestID(r.Context(), id)
		ctx, span := tracing.StartSpan(ctx, r.Method+" "+normalizePath(r.URL.Path), id)
		next.ServeHTTP(w, r.WithContext(ctx))
		span.End()
		span.Log(logger.WithComponent("tracing"), slowRequest)
	})
}

func newRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}
