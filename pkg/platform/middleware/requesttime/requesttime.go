// Package requesttime pins one "now" per request so every audit event and
// state transition recorded while serving it carries the same timestamp.
package requesttime

import (
	"net/http"
	"time"

	"keepsake/pkg/requestcontext"
)

// Middleware stores the arrival time in the request context. Read it with requestcontext.Now.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
