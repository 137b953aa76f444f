package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/setlist-sync/internal/auth"
	"github.com/a-essam23/setlist-sync/pkg/state"
	"github.com/a-essam23/setlist-sync/pkg/transport"
	"github.com/google/uuid"
)

const defaultLookupTimeout = 5 * time.Second

type Options struct {
	// LookupTimeout bounds each directory call made while handling one message.
	LookupTimeout time.Duration
}

// EventRouter is the per-connection protocol state machine. It owns no
// transport; it mutates the registries and the active-song store and
// enqueues frames on connections.
type EventRouter struct {
	logger        *slog.Logger
	state         state.Manager
	songs         state.ActiveSongStore
	directory     state.Directory
	authenticator *auth.Authenticator
	lookupTimeout time.Duration

	// serializes song mutations and room joins with the broadcasts they
	// enqueue, so every connection sees updates in store order.
	mutateMu sync.Mutex
}

func NewEventRouter(logger *slog.Logger, stateManager state.Manager, songs state.ActiveSongStore, dir state.Directory, authenticator *auth.Authenticator, opts Options) *EventRouter {
	timeout := opts.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &EventRouter{
		logger:        logger.With(slog.String("component", "event_router")),
		state:         stateManager,
		songs:         songs,
		directory:     dir,
		authenticator: authenticator,
		lookupTimeout: timeout,
	}
}

// HandleMessage decodes a raw client frame and dispatches it.
// It matches transport.MessageHandler.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	inbound, err := Decode(msg)
	if err != nil {
		r.logger.Warn("Ignoring client frame", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}
	r.Handle(ctx, connID, inbound)
}

// HandleClose matches transport.OnCloseHandler.
func (r *EventRouter) HandleClose(connID uuid.UUID, err error) {
	r.Handle(context.Background(), connID, Disconnect{Err: err})
}

// Handle is the single entry point of the state machine.
func (r *EventRouter) Handle(ctx context.Context, connID uuid.UUID, msg Inbound) {
	conn, ok := r.state.GetConnection(connID)
	if !ok {
		// Disconnected is terminal.
		r.logger.Debug("Ignoring event for unknown connection", slog.String("connID", connID.String()))
		return
	}

	switch m := msg.(type) {
	case Connect:
		r.onConnect(ctx, conn)
	case Authenticate:
		r.onAuthenticate(ctx, conn, m.UserID)
	case SelectSong:
		r.onSelectSong(ctx, conn, m)
	case QuitSong:
		r.onQuitSong(ctx, conn, m)
	case GetActiveSong:
		r.onGetActiveSong(conn, m)
	case Disconnect:
		r.onDisconnect(conn, m)
	default:
		r.logger.Error("Unhandled inbound message type", slog.Any("type", msg))
	}
}

func (r *EventRouter) onConnect(ctx context.Context, conn *state.Connection) {
	r.notifyOrigin(conn.Transport, ServerMessage{Event: EventConnectionStatus, Payload: true})

	if conn.HandshakeUserID != "" {
		r.onAuthenticate(ctx, conn, conn.HandshakeUserID)
	}
}

func (r *EventRouter) onAuthenticate(ctx context.Context, conn *state.Connection, userID string) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	user, err := r.authenticator.Authenticate(lookupCtx, conn, userID)
	if err != nil {
		r.logger.Warn("Authentication failed, closing connection",
			slog.String("connID", conn.ID.String()),
			slog.String("userID", userID),
			slog.Any("error", err),
		)
		conn.Transport.Close(transport.PolicyViolation("authentication failed"))
		return
	}
	r.processAuthenticated(conn, user)
}

// processAuthenticated is shared by the handshake and in-band paths and is
// idempotent: repeating it re-associates the same user and replaces the
// room membership.
func (r *EventRouter) processAuthenticated(conn *state.Connection, user *state.User) {
	if err := r.state.AssociateUser(conn.ID, user); err != nil {
		// the connection went away while the lookup was running
		r.logger.Debug("Could not associate user", slog.String("connID", conn.ID.String()), slog.Any("error", err))
		return
	}

	r.mutateMu.Lock()
	defer r.mutateMu.Unlock()

	payload := AuthSuccessPayload{Connected: true, Message: authSuccessMessage}
	if user.HasGroup() {
		r.state.JoinRoom(conn.ID, user.GroupID)
		if songID, ok := r.songs.Get(user.GroupID); ok {
			payload.ActiveSongID = &songID
		}
	} else {
		r.state.LeaveCurrentRoom(conn.ID)
	}

	r.notifyOrigin(conn.Transport, ServerMessage{Event: EventAuthSuccess, Payload: payload})
	r.logger.Info("Connection authenticated",
		slog.String("connID", conn.ID.String()),
		slog.String("userID", user.ID),
		slog.String("groupID", user.GroupID),
	)
}

func (r *EventRouter) onSelectSong(ctx context.Context, conn *state.Connection, m SelectSong) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	groupID, ok := r.authorizeAdmin(lookupCtx, conn, m.UserID)
	if !ok {
		return
	}
	if m.SongID == "" {
		r.logger.Debug("select_song ignored: empty song id", slog.String("connID", conn.ID.String()))
		return
	}
	exists, err := r.directory.SongExists(lookupCtx, m.SongID)
	if err != nil || !exists {
		r.logger.Debug("select_song ignored: song not found", slog.String("songID", m.SongID), slog.Any("error", err))
		return
	}

	r.mutateMu.Lock()
	defer r.mutateMu.Unlock()
	r.songs.Set(groupID, m.SongID)
	r.notifyRoom(groupID, ServerMessage{Event: EventSongSelected, Payload: SongSelectedPayload{SongID: m.SongID}})
	r.logger.Info("Song selected", slog.String("groupID", groupID), slog.String("songID", m.SongID))
}

func (r *EventRouter) onQuitSong(ctx context.Context, conn *state.Connection, m QuitSong) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	groupID, ok := r.authorizeAdmin(lookupCtx, conn, m.UserID)
	if !ok {
		return
	}

	r.mutateMu.Lock()
	defer r.mutateMu.Unlock()
	r.songs.Delete(groupID)
	r.notifyRoom(groupID, ServerMessage{Event: EventSongQuit, Payload: SongQuitPayload{}})
	r.logger.Info("Song quit", slog.String("groupID", groupID))
}

func (r *EventRouter) onGetActiveSong(conn *state.Connection, m GetActiveSong) {
	var songID *string
	if conn.User != nil && conn.User.HasGroup() {
		if id, ok := r.songs.Get(conn.User.GroupID); ok {
			songID = &id
		}
	}
	r.notifyOrigin(conn.Transport, ServerMessage{Event: EventAck, AckID: m.AckID, Payload: songID})
}

func (r *EventRouter) onDisconnect(conn *state.Connection, m Disconnect) {
	r.state.DeregisterConnection(conn.ID)
	userID := ""
	if conn.User != nil {
		userID = conn.User.ID
	}
	r.logger.Info("Connection disconnected",
		slog.String("connID", conn.ID.String()),
		slog.String("userID", userID),
		slog.Any("reason", m.Err),
	)
}

// authorizeAdmin re-reads the directories on every call and returns the
// group the actor administers. Any failure is a silent rejection.
func (r *EventRouter) authorizeAdmin(ctx context.Context, conn *state.Connection, claimedID string) (string, bool) {
	actorID, ok := r.actorFor(conn, claimedID)
	if !ok {
		r.logger.Debug("Mutation ignored: actor not established", slog.String("connID", conn.ID.String()), slog.String("claimed", claimedID))
		return "", false
	}

	user, err := r.directory.LookupUser(ctx, actorID)
	if err != nil {
		r.logDenied(conn, actorID, "user lookup failed", err)
		return "", false
	}
	if !user.HasGroup() {
		r.logDenied(conn, actorID, "user has no group", nil)
		return "", false
	}
	group, err := r.directory.LookupGroup(ctx, user.GroupID)
	if err != nil {
		r.logDenied(conn, actorID, "group lookup failed", err)
		return "", false
	}
	if group.AdminID != user.ID {
		r.logDenied(conn, actorID, "not the group admin", nil)
		return "", false
	}
	return group.ID, true
}

// actorFor decides whose authority a mutating message is sent under.
func (r *EventRouter) actorFor(conn *state.Connection, claimedID string) (string, bool) {
	if conn.Authenticated() {
		if claimedID != "" && claimedID != conn.User.ID {
			return "", false
		}
		return conn.User.ID, true
	}
	if r.authenticator.Lenient() && claimedID != "" {
		return claimedID, true
	}
	return "", false
}

func (r *EventRouter) logDenied(conn *state.Connection, userID, reason string, err error) {
	if err != nil && !errors.Is(err, state.ErrUserNotFound) && !errors.Is(err, state.ErrGroupNotFound) {
		r.logger.Warn("Mutation ignored: directory error", slog.String("connID", conn.ID.String()), slog.String("userID", userID), slog.Any("error", err))
		return
	}
	r.logger.Debug("Mutation ignored", slog.String("connID", conn.ID.String()), slog.String("userID", userID), slog.String("reason", reason))
}
