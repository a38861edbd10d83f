package orch

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/dkeye/Relay/internal/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrAlreadyJoined  = errors.New("session already joined another room")
	ErrUserMismatch   = errors.New("session bound to another user")
	ErrNotSubscribed  = errors.New("not subscribed to that publisher")
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Router   *app.Router
	Notifier *app.Notifier
	Policy   app.Policy
	Relays   *sfu.RelayManager
	Metrics  *metrics.Metrics

	// Renegotiate is called after local tracks were added to a session's
	// media connection. Set by the signaling layer.
	Renegotiate func(sid core.SessionID)
}

// DataMessage is the envelope delivered to data recipients on either transport.
type DataMessage struct {
	Type string          `json:"type"`
	From domain.UserID   `json:"from"`
	Body json.RawMessage `json:"body"`
}

// Open registers a new session for sig. The registry holds the creation
// reference until OnDisconnect.
func (o *Orchestrator) Open(sid core.SessionID, username string, sig core.SignalConnection) (*session.Session, bool) {
	s := session.New(sid)
	s.SetUsername(username)
	s.UpdateSignal(sig)
	s.OnRelease(func(*session.Session) { o.Metrics.SessionClosed() })
	if !o.Registry.Add(s) {
		return nil, false
	}
	o.Metrics.SessionOpened()
	return s, true
}

// OnData routes a data frame from sid to every data target and returns the
// number of recipients that accepted it.
func (o *Orchestrator) OnData(sid core.SessionID, body []byte) int {
	s, ok := o.Registry.Get(sid)
	if !ok {
		return 0
	}
	room, ok := s.State().Room()
	if !ok {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Msg("data before join dropped")
		return 0
	}
	targets := o.Router.DataTargets(s)
	if len(targets) == 0 {
		return 0
	}

	user, _ := s.State().User()
	raw := json.RawMessage(body)
	if !json.Valid(body) {
		raw, _ = json.Marshal(string(body))
	}
	frame, err := json.Marshal(DataMessage{Type: "data", From: user, Body: raw})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal data")
		return 0
	}

	sent, dropped := 0, 0
	for _, t := range targets {
		// A target may be released between the snapshot and the write.
		if !t.Retain() {
			continue
		}
		if err := t.SendData(frame); err != nil {
			dropped++
			o.onBackPressure(room, t)
		} else {
			sent++
		}
		t.Release()
	}
	o.Metrics.DataRouted(sent, dropped)
	log.Debug().Str("module", "orch").Str("from", string(sid)).Int("sent_to", sent).Int("dropped", dropped).Msg("data routed")
	return sent
}

func (o *Orchestrator) onBackPressure(room domain.RoomID, slow *session.Session) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(room, slow) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("sid", string(slow.ID())).Msg("kicking slow member")
		o.OnDisconnect(slow.ID())
	case app.MarkSlow, app.DropFrame, app.NoAction:
	}
}

// OnDisconnect removes the session, tears down its media, tells the room
// and drops the registry reference.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	s, ok := o.Registry.Remove(sid)
	if !ok {
		return
	}
	o.cleanupMedia(s)

	if room, ok := s.State().Room(); ok {
		user, _ := s.State().User()
		o.Notifier.Notify(s, app.Event{Type: "leave", Room: room, User: user, Session: sid})
		o.Rooms.PruneIfEmpty(room, o.Registry.CountInRoom)
	}
	s.Release()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("disconnected")
}
