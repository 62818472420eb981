package app

import (
	"sync"

	"github.com/dkeye/Lobby/internal/domain"
	"github.com/rs/zerolog/log"
)

type userEntry struct {
	User     domain.User
	RoomName domain.RoomName
}

// Registry tracks issued user identities and the room each belongs to.
// Connection state lives in the room, not here. It never emits events.
type Registry struct {
	mu    sync.RWMutex
	users map[domain.UserID]*userEntry
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[domain.UserID]*userEntry),
	}
}

func (r *Registry) Register(user domain.User, roomName domain.RoomName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = &userEntry{User: user, RoomName: roomName}
	log.Info().Str("module", "app.registry").Str("user", string(user.ID)).Str("room", string(roomName)).Msg("registered user")
}

func (r *Registry) Exists(id domain.UserID) bool {
	if id == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[id]
	return ok
}

func (r *Registry) Lookup(id domain.UserID) (domain.User, domain.RoomName, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[id]
	if !ok {
		return domain.User{}, "", false
	}
	return e.User, e.RoomName, true
}

func (r *Registry) Remove(id domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return false
	}
	delete(r.users, id)
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("removed user")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
