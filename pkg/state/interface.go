package state

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrEmptyUserID         = errors.New("user id is empty")
	ErrUserNotFound        = errors.New("user not found")
	ErrGroupNotFound       = errors.New("group not found")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrConnectionExists    = errors.New("connection is already registered")
	ErrIdentityMismatch    = errors.New("claimed user id does not match session")
	ErrSessionNotPresented = errors.New("no session presented at handshake")
)

// Transport is the part of a live connection the core is allowed to touch.
type Transport interface {
	ID() uuid.UUID
	// Send enqueues a frame without blocking. It reports false if the frame was dropped.
	Send(message []byte) bool
	Close(err error)
}

type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(conn Transport, ipAddr, handshakeUserID string) (*Connection, error)
	// removes the connection from every registry. Unknown ids are a no-op.
	DeregisterConnection(connID uuid.UUID)
	GetConnection(connID uuid.UUID) (*Connection, bool)
	FindOldestUserConnection(userID string) (*Connection, bool)
	GetAllConnections() []*Connection

	// --- User Management ---
	// links a connection to a resolved user. Set semantics: repeating it is harmless.
	AssociateUser(connID uuid.UUID, user *User) error
	UserIDs() []string
	GetUserConnections(userID string) []Transport
	GetUserConnectionCount(userID string) int

	// --- Room Management ---
	// leaves the connection's current room (if any) and joins groupID, atomically.
	JoinRoom(connID uuid.UUID, groupID string)
	LeaveCurrentRoom(connID uuid.UUID)
	CurrentRoom(connID uuid.UUID) (string, bool)
	UserRoom(userID string) (string, bool)
	GetRoomConnections(groupID string) []Transport
	RoomSizes() map[string]int
}

// ActiveSongStore holds groupID -> songID, at most one song per group.
type ActiveSongStore interface {
	Get(groupID string) (string, bool)
	Set(groupID, songID string)
	Delete(groupID string) bool
	Snapshot() map[string]string
	Replace(entries map[string]string)
}

// --- External collaborators ---

type UserDirectory interface {
	LookupUser(ctx context.Context, id string) (*User, error)
}

type GroupDirectory interface {
	LookupGroup(ctx context.Context, id string) (*Group, error)
}

type SongCatalog interface {
	SongExists(ctx context.Context, id string) (bool, error)
}

// Directory bundles the three read-only lookups the dispatcher consumes.
type Directory interface {
	UserDirectory
	GroupDirectory
	SongCatalog
}

// SnapshotStore is the durable key/value hook for group -> active song.
type SnapshotStore interface {
	LoadActiveSongs(ctx context.Context) (map[string]string, error)
	FlushActiveSongs(ctx context.Context, entries map[string]string) error
	Close() error
}
