package server

import (
	"net/http"

	"github.com/tiergate/tiergate/internal/logging"
)

// RequestIDMiddleware tags each request with an ID for log correlation.
// An inbound X-Request-ID survives proxy hops; requests without one get a
// generated ID. The ID rides on the request context and is echoed in the
// response header so callers can quote it when reporting problems.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := logging.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
