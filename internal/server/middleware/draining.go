package middleware

import (
	"net/http"
)

// NewDrainGuard refuses requests with 503 once draining reports true.
func NewDrainGuard(draining func() bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if draining() {
				w.Header().Set("Connection", "close")
				http.Error(w, "draining", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
