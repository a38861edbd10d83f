package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

type RoomInfo struct {
	ID          domain.RoomID   `json:"id"`
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
}

// RoomManager maps room names to allocated RoomIDs. It lives on the
// control path; routing reads room membership from session state instead.
type RoomManager struct {
	mu     sync.RWMutex
	byName map[domain.RoomName]*domain.Room
	byID   map[domain.RoomID]*domain.Room
	ids    *IDAllocator
}

func NewRoomManager(ids *IDAllocator) *RoomManager {
	return &RoomManager{
		byName: make(map[domain.RoomName]*domain.Room),
		byID:   make(map[domain.RoomID]*domain.Room),
		ids:    ids,
	}
}

// Enter resolves name to a room, creating it when absent, and runs bind on
// it before PruneIfEmpty can remove it. bind must not block.
func (m *RoomManager) Enter(name domain.RoomName, bind func(*domain.Room)) (*domain.Room, error) {
	if err := domain.ValidateRoomName(name); err != nil {
		return nil, err
	}
	for {
		m.mu.RLock()
		room, ok := m.byName[name]
		if ok {
			if bind != nil {
				bind(room)
			}
			m.mu.RUnlock()
			return room, nil
		}
		m.mu.RUnlock()
		m.create(name)
	}
}

func (m *RoomManager) create(name domain.RoomName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[name]; ok {
		return
	}
	room := &domain.Room{ID: m.ids.NextRoom(), Name: name}
	m.byName[name] = room
	m.byID[room.ID] = room
	log.Info().Str("module", "app.rooms").Str("room", room.ID.String()).Str("name", string(name)).Msg("room created")
}

// PruneIfEmpty forgets the room when members reports nobody bound to it.
// Binds made through Enter are visible to members by then.
func (m *RoomManager) PruneIfEmpty(id domain.RoomID, members func(domain.RoomID) int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok || members(id) > 0 {
		return false
	}
	delete(m.byID, id)
	delete(m.byName, r.Name)
	log.Info().Str("module", "app.rooms").Str("room", id.String()).Msg("empty room pruned")
	return true
}

func (m *RoomManager) Get(id domain.RoomID) (*domain.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	return r, ok
}

func (m *RoomManager) ByName(name domain.RoomName) (*domain.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byName[name]
	return r, ok
}

// List returns rooms ordered by ID with member counts taken from reg.
func (m *RoomManager) List(reg *Registry) []RoomInfo {
	m.mu.RLock()
	out := make([]RoomInfo, 0, len(m.byID))
	for id, r := range m.byID {
		out = append(out, RoomInfo{ID: id, Name: r.Name})
	}
	m.mu.RUnlock()

	for i := range out {
		out[i].MemberCount = reg.CountInRoom(out[i].ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StopRoom forgets the room. Sessions already bound to its ID keep it;
// a later GetOrCreate with the same name allocates a new ID.
func (m *RoomManager) StopRoom(id domain.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return false
	}
	delete(m.byID, id)
	delete(m.byName, r.Name)
	log.Info().Str("module", "app.rooms").Str("room", id.String()).Msg("room stopped")
	return true
}
