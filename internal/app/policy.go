package app

import (
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/session"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(room domain.RoomID, member *session.Session) BackpressureAction
}

// SimplePolicy kicks any member that cannot keep up.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, *session.Session) BackpressureAction {
	return KickMember
}

// DropPolicy drops the frame for a slow member and keeps it connected.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.RoomID, *session.Session) BackpressureAction {
	return DropFrame
}

// PolicyByName maps a config value to a policy. Unknown names yield SimplePolicy.
func PolicyByName(name string) Policy {
	switch name {
	case "drop":
		return DropPolicy{}
	default:
		return SimplePolicy{}
	}
}
