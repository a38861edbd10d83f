package session

import (
	"sync/atomic"

	"github.com/dkeye/Relay/internal/domain"
)

// State is the per-session record shared by signaling, forwarding and
// notification goroutines. Every accessor is safe to call concurrently with
// every other and none of them blocks.
//
// The zero value is the default state: no user, no room, both flags false.
// Flags and identities are independent; HasData() being true says nothing
// about whether Room() is set.
type State struct {
	user    Identity[domain.UserID]
	room    Identity[domain.RoomID]
	hasData atomic.Bool
	notify  atomic.Bool
}

// NewState returns a state with nothing bound and both flags off.
func NewState() *State { return &State{} }

// BindUser binds the session to a user once and returns the resident user.
func (s *State) BindUser(id domain.UserID) domain.UserID { return s.user.Set(id) }

// TryBindUser is BindUser that also reports whether this call bound the user,
// found it already bound to id, or was refused because another user is resident.
func (s *State) TryBindUser(id domain.UserID) (domain.UserID, BindOutcome) {
	return s.user.Bind(id)
}

// User returns the bound user, or false while unbound.
func (s *State) User() (domain.UserID, bool) { return s.user.Get() }

// BindRoom binds the session to a room once and returns the resident room.
func (s *State) BindRoom(id domain.RoomID) domain.RoomID { return s.room.Set(id) }

// TryBindRoom is BindRoom with the BindOutcome reported. On Conflict the
// returned id is the room the session stays in.
func (s *State) TryBindRoom(id domain.RoomID) (domain.RoomID, BindOutcome) {
	return s.room.Bind(id)
}

// Room returns the bound room, or false while unbound.
func (s *State) Room() (domain.RoomID, bool) { return s.room.Get() }

// InRoom reports whether the session is bound to id.
func (s *State) InRoom(id domain.RoomID) bool {
	r, ok := s.room.Get()
	return ok && r == id
}

// SetHasData marks whether the session accepts data frames. Last write wins.
func (s *State) SetHasData(v bool) { s.hasData.Store(v) }

func (s *State) HasData() bool { return s.hasData.Load() }

// SetNotify marks whether the session wants room notifications. Last write wins.
func (s *State) SetNotify(v bool) { s.notify.Store(v) }

func (s *State) WantsNotify() bool { return s.notify.Load() }

// StateView is a point-in-time copy for logs and APIs. Fields are read
// one by one, so a view is not a consistent cut across fields.
type StateView struct {
	User    *domain.UserID `json:"user,omitempty"`
	Room    *domain.RoomID `json:"room,omitempty"`
	HasData bool           `json:"has_data"`
	Notify  bool           `json:"notify"`
}

// Snapshot copies the current state into a StateView.
func (s *State) Snapshot() StateView {
	var v StateView
	if u, ok := s.User(); ok {
		v.User = &u
	}
	if r, ok := s.Room(); ok {
		v.Room = &r
	}
	v.HasData = s.HasData()
	v.Notify = s.WantsNotify()
	return v
}
