package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Lobby/internal/core"
	"github.com/dkeye/Lobby/internal/domain"
)

// roomTable guards only the name -> room mapping. Room internals have their
// own lock, always taken after this one.
type roomTable struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]core.RoomService
}

func newRoomTable() *roomTable {
	return &roomTable{rooms: make(map[domain.RoomName]core.RoomService)}
}

// getOrCreate returns the live room for name, replacing a closed leftover.
func (t *roomTable) getOrCreate(name domain.RoomName, create func() core.RoomService) (core.RoomService, bool) {
	t.mu.RLock()
	room, ok := t.rooms[name]
	t.mu.RUnlock()
	if ok && !room.Closed() {
		return room, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if room, ok = t.rooms[name]; ok && !room.Closed() {
		return room, false
	}
	room = create()
	t.rooms[name] = room
	return room, true
}

func (t *roomTable) get(name domain.RoomName) (core.RoomService, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	room, ok := t.rooms[name]
	if !ok || room.Closed() {
		return nil, false
	}
	return room, true
}

// removeIfSame drops the entry only if it still points at room.
func (t *roomTable) removeIfSame(name domain.RoomName, room core.RoomService) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.rooms[name]; ok && cur == room {
		delete(t.rooms, name)
		return true
	}
	return false
}

func (t *roomTable) list() []core.RoomService {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.RoomService, 0, len(t.rooms))
	for _, r := range t.rooms {
		if !r.Closed() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
