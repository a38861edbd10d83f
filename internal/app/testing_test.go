package app

import (
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/core/fake"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/session"
)

// joined builds a registered session with its user and room bound.
func joined(reg *Registry, sid string, user domain.UserID, room domain.RoomID) (*session.Session, *fake.Signal) {
	s := session.New(core.SessionID(sid))
	sig := fake.NewSignal()
	s.UpdateSignal(sig)
	s.State().BindUser(user)
	s.State().BindRoom(room)
	reg.Add(s)
	return s, sig
}
