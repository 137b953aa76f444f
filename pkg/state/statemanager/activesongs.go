package statemanager

import (
	"maps"
	"sync"

	"github.com/a-essam23/setlist-sync/pkg/state"
)

// ActiveSongs is the in-memory groupID -> songID table. It is the single
// source of truth for what is playing; durable storage only mirrors it.
type ActiveSongs struct {
	mu    sync.RWMutex
	songs map[string]string
}

func NewActiveSongs() *ActiveSongs {
	return &ActiveSongs{songs: make(map[string]string)}
}

var _ state.ActiveSongStore = (*ActiveSongs)(nil)

func (a *ActiveSongs) Get(groupID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	songID, ok := a.songs[groupID]
	return songID, ok
}

// Set overwrites whatever song the group had.
func (a *ActiveSongs) Set(groupID, songID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.songs[groupID] = songID
}

// Delete reports whether an entry was removed.
func (a *ActiveSongs) Delete(groupID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.songs[groupID]
	delete(a.songs, groupID)
	return ok
}

func (a *ActiveSongs) Snapshot() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.songs)
}

// Replace loads entries verbatim, dropping anything held before.
// Entries with an empty group or song id are skipped.
func (a *ActiveSongs) Replace(entries map[string]string) {
	fresh := make(map[string]string, len(entries))
	for groupID, songID := range entries {
		if groupID == "" || songID == "" {
			continue
		}
		fresh[groupID] = songID
	}
	a.mu.Lock()
	a.songs = fresh
	a.mu.Unlock()
}
