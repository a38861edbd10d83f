package app

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/session"
	"github.com/rs/zerolog/log"
)

// sessionTable is immutable once published.
type sessionTable struct {
	list []*session.Session
	byID map[core.SessionID]*session.Session
}

// Registry tracks live sessions and the users behind client tokens.
// Writers serialize on mu and publish a fresh table; readers load the
// current table and never lock.
type Registry struct {
	mu    sync.Mutex
	table atomic.Pointer[sessionTable]

	usersMu sync.RWMutex
	users   map[string]*domain.User
	ids     *IDAllocator
}

func NewRegistry(ids *IDAllocator) *Registry {
	r := &Registry{
		users: make(map[string]*domain.User),
		ids:   ids,
	}
	r.table.Store(&sessionTable{byID: map[core.SessionID]*session.Session{}})
	return r
}

// Add registers a session. It returns false if the id is already taken.
func (r *Registry) Add(s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.table.Load()
	if _, ok := cur.byID[s.ID()]; ok {
		return false
	}
	next := &sessionTable{
		list: make([]*session.Session, 0, len(cur.list)+1),
		byID: make(map[core.SessionID]*session.Session, len(cur.byID)+1),
	}
	next.list = append(next.list, cur.list...)
	next.list = append(next.list, s)
	for id, v := range cur.byID {
		next.byID[id] = v
	}
	next.byID[s.ID()] = s
	r.table.Store(next)
	log.Info().Str("module", "app.registry").Str("sid", string(s.ID())).Msg("added session")
	return true
}

func (r *Registry) Remove(sid core.SessionID) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.table.Load()
	s, ok := cur.byID[sid]
	if !ok {
		return nil, false
	}
	next := &sessionTable{
		list: make([]*session.Session, 0, len(cur.list)),
		byID: make(map[core.SessionID]*session.Session, len(cur.byID)),
	}
	for _, v := range cur.list {
		if v.ID() != sid {
			next.list = append(next.list, v)
			next.byID[v.ID()] = v
		}
	}
	r.table.Store(next)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed session")
	return s, true
}

func (r *Registry) Get(sid core.SessionID) (*session.Session, bool) {
	s, ok := r.table.Load().byID[sid]
	return s, ok
}

// Sessions returns the current snapshot. Callers must not modify it.
func (r *Registry) Sessions() []*session.Session {
	return r.table.Load().list
}

func (r *Registry) Len() int { return len(r.table.Load().list) }

func (r *Registry) MembersOfRoom(room domain.RoomID) []*session.Session {
	var out []*session.Session
	for _, s := range r.Sessions() {
		if s.State().InRoom(room) {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) CountInRoom(room domain.RoomID) int {
	n := 0
	for _, s := range r.Sessions() {
		if s.State().InRoom(room) {
			n++
		}
	}
	return n
}

func (r *Registry) SessionsOfUser(uid domain.UserID) []*session.Session {
	var out []*session.Session
	for _, s := range r.Sessions() {
		if u, ok := s.State().User(); ok && u == uid {
			out = append(out, s)
		}
	}
	return out
}

// GetOrCreateUser returns the user behind a client token, allocating a
// UserID on first sight. All sessions opened with one token share it.
func (r *Registry) GetOrCreateUser(token string) domain.User {
	r.usersMu.RLock()
	u, ok := r.users[token]
	if ok {
		out := *u
		r.usersMu.RUnlock()
		return out
	}
	r.usersMu.RUnlock()

	r.usersMu.Lock()
	defer r.usersMu.Unlock()
	if u, ok := r.users[token]; ok {
		return *u
	}
	u = &domain.User{ID: r.ids.NextUser(), Username: domain.DefaultUsername}
	r.users[token] = u
	log.Info().Str("module", "app.registry").Str("user", u.ID.String()).Msg("created new user")
	return *u
}

func (r *Registry) UpdateUsername(token, name string) (domain.User, error) {
	r.usersMu.Lock()
	defer r.usersMu.Unlock()
	u, ok := r.users[token]
	if !ok {
		return domain.User{}, ErrUnknownUser
	}
	if err := u.SetUsername(name); err != nil {
		return *u, err
	}
	log.Info().Str("module", "app.registry").Str("user", u.ID.String()).Str("username", name).Msg("updated username")
	return *u, nil
}
