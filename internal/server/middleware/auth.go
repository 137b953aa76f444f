package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/a-essam23/setlist-sync/internal/auth"
)

// NewHandshakeIdentity resolves the identity a client claims while opening
// the websocket and stores it in the request metadata.
//
// A session token, when present, must verify; its subject becomes the
// handshake identity. Without one the upgrade still proceeds, unauthenticated.
// In lenient mode a "userId" query parameter is accepted when no token is sent.
func NewHandshakeIdentity(logger *slog.Logger, verifier *auth.SessionVerifier, lenient bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			claimed := r.URL.Query().Get("userId")
			subject, err := verifier.Subject(verifier.TokenFromRequest(r))
			switch {
			case err == nil:
				if claimed != "" && claimed != subject {
					logger.Warn("Handshake userId differs from session subject, using subject",
						slog.String("ip", reqMeta.IP),
						slog.String("claimed", claimed),
						slog.String("subject", subject),
					)
				}
				reqMeta.UserID = subject
			case errors.Is(err, auth.ErrNoSessionToken):
				if lenient {
					reqMeta.UserID = claimed
				} else if claimed != "" {
					logger.Debug("Ignoring unverified handshake userId", slog.String("ip", reqMeta.IP), slog.String("claimed", claimed))
				}
			default:
				logger.Warn("Invalid session token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
