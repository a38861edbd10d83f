package orch

import (
	"fmt"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/session"
	"github.com/rs/zerolog/log"
)

type JoinOptions struct {
	Notify bool
	Data   bool
}

// Join binds the session to user and to the named room. Both bindings are
// permanent: joining a different room later fails with ErrAlreadyJoined and
// leaves the session where it is. Repeating the same join is harmless.
func (o *Orchestrator) Join(sid core.SessionID, user domain.User, name domain.RoomName, opts JoinOptions) (*domain.Room, error) {
	s, ok := o.Registry.Get(sid)
	if !ok {
		return nil, ErrUnknownSession
	}
	if err := domain.ValidateRoomName(name); err != nil {
		return nil, err
	}
	st := s.State()

	uid, out := st.TryBindUser(user.ID)
	o.Metrics.Bind("user", out)
	if out == session.Conflict {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("user", uid.String()).Str("attempted", user.ID.String()).Msg("user bind conflict")
		return nil, ErrUserMismatch
	}

	// Already placed: answer from the resident room without creating name.
	if rid, ok := st.Room(); ok {
		if r, found := o.Rooms.ByName(name); !found || r.ID != rid {
			o.Metrics.Bind("room", session.Conflict)
			log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("room", rid.String()).Str("attempted", string(name)).Msg("room bind conflict")
			return nil, fmt.Errorf("%w: room %s", ErrAlreadyJoined, rid)
		}
	}

	var rid domain.RoomID
	room, err := o.Rooms.Enter(name, func(r *domain.Room) {
		rid, out = st.TryBindRoom(r.ID)
	})
	if err != nil {
		return nil, err
	}
	o.Metrics.Bind("room", out)
	if out == session.Conflict {
		// Lost a race with a concurrent join; drop the room if this call made it.
		o.Rooms.PruneIfEmpty(room.ID, o.Registry.CountInRoom)
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("room", rid.String()).Str("attempted", room.ID.String()).Msg("room bind conflict")
		return nil, fmt.Errorf("%w: room %s", ErrAlreadyJoined, rid)
	}

	st.SetNotify(opts.Notify)
	if opts.Data {
		st.SetHasData(true)
	}
	s.SetUsername(user.Username)

	if out == session.Bound {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("user", uid.String()).Str("room", rid.String()).Msg("joined")
		o.Notifier.Notify(s, app.Event{Type: "join", Room: rid, User: uid, Username: user.Username, Session: sid})
		o.OnMediaReady(sid)
		o.publishToRoom(s)
	}
	return room, nil
}

// SetFlags flips the notification and data flags. Nil leaves a flag as is.
func (o *Orchestrator) SetFlags(sid core.SessionID, notify, data *bool) error {
	s, ok := o.Registry.Get(sid)
	if !ok {
		return ErrUnknownSession
	}
	if notify != nil {
		s.State().SetNotify(*notify)
	}
	if data != nil {
		s.State().SetHasData(*data)
	}
	return nil
}

// Rename updates the session's display name and tells its room.
func (o *Orchestrator) Rename(sid core.SessionID, user domain.User) {
	s, ok := o.Registry.Get(sid)
	if !ok {
		return
	}
	s.SetUsername(user.Username)
	if room, ok := s.State().Room(); ok {
		o.Notifier.Notify(s, app.Event{Type: "rename", Room: room, User: user.ID, Username: user.Username, Session: sid})
	}
}

// EvictRoom disconnects every member and forgets the room.
func (o *Orchestrator) EvictRoom(id domain.RoomID) {
	for _, s := range o.Registry.MembersOfRoom(id) {
		o.OnDisconnect(s.ID())
	}
	o.Rooms.StopRoom(id)
}
