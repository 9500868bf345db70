// Package requesttime pins one "now" per HTTP request so every ledger
// operation issued by the handler sees the same timestamp.
package requesttime

import (
	"net/http"
	"time"

	"credline/pkg/requestcontext"
)

// Middleware stores clock() in the request context. A nil clock uses
// time.Now.
func Middleware(clock func() time.Time) func(http.Handler) http.Handler {
	if clock == nil {
		clock = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), clock())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
