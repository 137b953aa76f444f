package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger logs each upgrade request together with the identity the
// handshake resolved. It belongs after NewHandshakeIdentity in the chain.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ip, userID string
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip, userID = reqMeta.IP, reqMeta.UserID
			}

			logger.Info("Incoming HTTP request",
				slog.String("method", r.Method),
				slog.String("uri", r.URL.Path),
				slog.String("ip", ip),
				slog.String("userID", userID),
			)
			next.ServeHTTP(w, r)
		})
	}
}
