package state

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// representation of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Transport // The actual connection for sending messages
	// HandshakeUserID is the identity vetted by the session system at upgrade time, if any.
	HandshakeUserID string
	// User is the snapshot resolved at the last successful authenticate (nil until then).
	User      *User
	CreatedAt time.Time
}

func (c *Connection) Authenticated() bool {
	return c.User != nil
}

// snapshot of a user record owned by the external user directory.
type User struct {
	ID      string
	Role    Role
	GroupID string // empty when the user belongs to no group
}

func (u *User) HasGroup() bool {
	return u.GroupID != ""
}

// group record owned by the external group directory.
type Group struct {
	ID      string
	AdminID string
}
