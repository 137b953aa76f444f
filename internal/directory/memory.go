package directory

import (
	"context"
	"sync"

	"github.com/a-essam23/setlist-sync/pkg/config"
	"github.com/a-essam23/setlist-sync/pkg/state"
)

// Memory is a directory held in process memory, seeded from configuration.
// Tests use its setters to change admin-ship or membership between messages.
type Memory struct {
	mu     sync.RWMutex
	users  map[string]state.User
	groups map[string]state.Group
	songs  map[string]struct{}
}

var _ state.Directory = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:  make(map[string]state.User),
		groups: make(map[string]state.Group),
		songs:  make(map[string]struct{}),
	}
}

// NewStatic builds a Memory directory from the directory section of the config.
func NewStatic(cfg config.DirectoryConfig) *Memory {
	m := NewMemory()
	for _, u := range cfg.Users {
		role := state.Role(u.Role)
		if role == "" {
			role = state.RoleMember
		}
		m.PutUser(state.User{ID: u.ID, Role: role, GroupID: u.GroupID})
	}
	for _, g := range cfg.Groups {
		m.PutGroup(state.Group{ID: g.ID, AdminID: g.AdminID})
	}
	for _, s := range cfg.Songs {
		m.PutSong(s)
	}
	return m
}

func (m *Memory) PutUser(u state.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) PutGroup(g state.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = g
}

func (m *Memory) PutSong(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.songs[id] = struct{}{}
}

func (m *Memory) LookupUser(ctx context.Context, id string) (*state.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, state.ErrUserNotFound
	}
	return &u, nil
}

func (m *Memory) LookupGroup(ctx context.Context, id string) (*state.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, state.ErrGroupNotFound
	}
	return &g, nil
}

func (m *Memory) SongExists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.songs[id]
	return ok, nil
}

func (m *Memory) Close() error { return nil }
