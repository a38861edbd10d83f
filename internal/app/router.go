package app

import (
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/session"
)

// Router answers "who receives this" from session state alone.
// It reads the registry snapshot and atomic state, so it never waits
// on signaling.
type Router struct {
	reg *Registry
}

func NewRouter(reg *Registry) *Router { return &Router{reg: reg} }

// DataTargets returns the sessions that should receive a data frame from
// sender: same room, data channel negotiated, different user.
// An unbound sender has no targets.
func (rt *Router) DataTargets(sender *session.Session) []*session.Session {
	st := sender.State()
	room, ok := st.Room()
	if !ok {
		return nil
	}
	user, hasUser := st.User()

	var out []*session.Session
	for _, s := range rt.reg.Sessions() {
		if s == sender {
			continue
		}
		other := s.State()
		if !other.InRoom(room) || !other.HasData() {
			continue
		}
		if hasUser {
			if u, ok := other.User(); ok && u == user {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// NotifyTargets returns the sessions in room that asked for notifications,
// leaving out except and every other session of its user. except may be nil.
func (rt *Router) NotifyTargets(room domain.RoomID, except *session.Session) []*session.Session {
	var (
		skipUser domain.UserID
		hasSkip  bool
	)
	if except != nil {
		skipUser, hasSkip = except.State().User()
	}

	var out []*session.Session
	for _, s := range rt.reg.Sessions() {
		if s == except {
			continue
		}
		st := s.State()
		if !st.InRoom(room) || !st.WantsNotify() {
			continue
		}
		if hasSkip {
			if u, ok := st.User(); ok && u == skipUser {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}
