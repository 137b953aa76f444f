// Package auth resolves the identity behind a connection.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/setlist-sync/pkg/state"
)

type Authenticator struct {
	users   state.UserDirectory
	lenient bool
	logger  *slog.Logger
}

// NewAuthenticator builds an authenticator. In lenient mode a client-declared
// id is trusted without a matching handshake session.
func NewAuthenticator(logger *slog.Logger, users state.UserDirectory, lenient bool) *Authenticator {
	if lenient {
		logger.Warn("Lenient authentication enabled: client-declared user ids are trusted")
	}
	return &Authenticator{
		users:   users,
		lenient: lenient,
		logger:  logger.With(slog.String("component", "authenticator")),
	}
}

func (a *Authenticator) Lenient() bool {
	return a.lenient
}

// Authenticate resolves claimedID for conn against the user directory.
// The lookup is attempted once; any failure is final for this call.
func (a *Authenticator) Authenticate(ctx context.Context, conn *state.Connection, claimedID string) (*state.User, error) {
	if claimedID == "" {
		return nil, state.ErrEmptyUserID
	}
	if !a.lenient {
		if conn.HandshakeUserID == "" {
			return nil, state.ErrSessionNotPresented
		}
		if conn.HandshakeUserID != claimedID {
			return nil, state.ErrIdentityMismatch
		}
	}

	user, err := a.users.LookupUser(ctx, claimedID)
	if err != nil {
		if errors.Is(err, state.ErrUserNotFound) {
			return nil, fmt.Errorf("authenticate %q: %w", claimedID, err)
		}
		return nil, fmt.Errorf("authenticate %q: user lookup failed: %w", claimedID, err)
	}
	a.logger.Debug("User resolved", slog.String("connID", conn.ID.String()), slog.String("userID", user.ID), slog.String("groupID", user.GroupID))
	return user, nil
}
