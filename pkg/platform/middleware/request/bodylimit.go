package request

import (
	"fmt"
	"net/http"
)

// BodyLimit caps a route group's request bodies at maxBytes. A declared
// Content-Length over the cap is refused before the handler runs. A body sent
// without a length, or with a short one, is cut off by http.MaxBytesReader and
// the decoder reports the overflow.
//
// Offline sync batches carry a whole session of events, so the router gives
// the sync group its own cap from Server.MaxBodyBytes.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Connection", "close")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = fmt.Fprintf(w, `{"error":"payload_too_large","error_description":"request body exceeds %d bytes"}`, maxBytes) //nolint:errcheck // headers already sent
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
