package statemanager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/setlist-sync/pkg/state"
	"github.com/google/uuid"
)

// InMemoryManager owns the connection registry and the room membership registry.
// A single mutex guards all maps so that the forward and reverse room indexes
// change together.
type InMemoryManager struct {
	conns map[uuid.UUID]*state.Connection
	// userID -> connections; users with no connections are removed.
	users map[string]map[uuid.UUID]*state.Connection
	// groupID -> connections; empty rooms are removed.
	rooms map[string]map[uuid.UUID]*state.Connection
	// connID -> groupID
	connRoom map[uuid.UUID]string
	// userID -> groupID the user currently resides in.
	residency map[string]string

	mu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:     make(map[uuid.UUID]*state.Connection),
		users:     make(map[string]map[uuid.UUID]*state.Connection),
		rooms:     make(map[string]map[uuid.UUID]*state.Connection),
		connRoom:  make(map[uuid.UUID]string),
		residency: make(map[string]string),
		logger:    logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(conn state.Transport, ipAddr, handshakeUserID string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, state.ErrConnectionExists
	}
	newConn := &state.Connection{
		ID:              connID,
		IPAddress:       ipAddr,
		Transport:       conn,
		HandshakeUserID: handshakeUserID,
		CreatedAt:       time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		return
	}
	m.leaveLocked(conn)
	if conn.User != nil {
		m.detachUserLocked(conn, conn.User.ID)
	}
	delete(m.conns, connID)
	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	if !ok {
		return nil, false
	}
	// hand out a copy so callers never race with AssociateUser
	cp := *conn
	return &cp, true
}

func (m *InMemoryManager) GetAllConnections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldestConn *state.Connection
	for _, conn := range m.users[userID] {
		if oldestConn == nil || conn.CreatedAt.Before(oldestConn.CreatedAt) {
			oldestConn = conn
		}
	}
	if oldestConn == nil {
		return nil, false // User has no connections.
	}
	cp := *oldestConn
	return &cp, true
}

// --- User Management ---

func (m *InMemoryManager) AssociateUser(connID uuid.UUID, user *state.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return state.ErrConnectionNotFound
	}

	// a connection belongs to at most one user at a time
	if conn.User != nil && conn.User.ID != user.ID {
		m.leaveLocked(conn)
		m.detachUserLocked(conn, conn.User.ID)
	}

	snapshot := *user
	conn.User = &snapshot

	set, exists := m.users[user.ID]
	if !exists {
		set = make(map[uuid.UUID]*state.Connection)
		m.users[user.ID] = set
	}
	set[connID] = conn

	m.logger.Debug("Associated connection with user", slog.String("connID", connID.String()), slog.String("userID", user.ID))
	return nil
}

func (m *InMemoryManager) UserIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	return ids
}

func (m *InMemoryManager) GetUserConnections(userID string) []state.Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]state.Transport, 0, len(m.users[userID]))
	for _, c := range m.users[userID] {
		conns = append(conns, c.Transport)
	}
	return conns
}

func (m *InMemoryManager) GetUserConnectionCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

// --- Room Management ---

func (m *InMemoryManager) JoinRoom(connID uuid.UUID, groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		m.logger.Warn("join ignored: connection not registered", slog.String("connID", connID.String()), slog.String("groupID", groupID))
		return
	}

	m.leaveLocked(conn)

	room, exists := m.rooms[groupID]
	if !exists {
		room = make(map[uuid.UUID]*state.Connection)
		m.rooms[groupID] = room
	}
	room[connID] = conn
	m.connRoom[connID] = groupID
	if conn.User != nil {
		m.residency[conn.User.ID] = groupID
	}
	m.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("groupID", groupID))
}

func (m *InMemoryManager) LeaveCurrentRoom(connID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return
	}
	m.leaveLocked(conn)
}

func (m *InMemoryManager) CurrentRoom(connID uuid.UUID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	groupID, ok := m.connRoom[connID]
	return groupID, ok
}

func (m *InMemoryManager) UserRoom(userID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	groupID, ok := m.residency[userID]
	return groupID, ok
}

func (m *InMemoryManager) GetRoomConnections(groupID string) []state.Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room := m.rooms[groupID]
	conns := make([]state.Transport, 0, len(room))
	for _, c := range room {
		conns = append(conns, c.Transport)
	}
	return conns
}

func (m *InMemoryManager) RoomSizes() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sizes := make(map[string]int, len(m.rooms))
	for id, room := range m.rooms {
		sizes[id] = len(room)
	}
	return sizes
}

// leaveLocked removes conn from its room, if any. Caller holds m.mu.
func (m *InMemoryManager) leaveLocked(conn *state.Connection) {
	groupID, ok := m.connRoom[conn.ID]
	if !ok {
		return
	}
	delete(m.connRoom, conn.ID)

	if room, exists := m.rooms[groupID]; exists {
		delete(room, conn.ID)
		// For memory hygiene, remove the room if it's now empty.
		if len(room) == 0 {
			delete(m.rooms, groupID)
			m.logger.Debug("Removed empty room", slog.String("groupID", groupID))
		}
	}

	if conn.User != nil && !m.userInAnyRoomLocked(conn.User.ID) {
		delete(m.residency, conn.User.ID)
	}
	m.logger.Debug("Connection left room", slog.String("connID", conn.ID.String()), slog.String("groupID", groupID))
}

func (m *InMemoryManager) detachUserLocked(conn *state.Connection, userID string) {
	set, ok := m.users[userID]
	if !ok {
		return
	}
	delete(set, conn.ID)
	if len(set) == 0 {
		delete(m.users, userID)
		delete(m.residency, userID)
	}
}

func (m *InMemoryManager) userInAnyRoomLocked(userID string) bool {
	for id := range m.users[userID] {
		if _, ok := m.connRoom[id]; ok {
			return true
		}
	}
	return false
}
