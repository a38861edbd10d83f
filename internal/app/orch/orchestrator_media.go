package orch

import (
	"context"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/session"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sid core.SessionID) {
	mc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		o.OnTrack(trackCtx, sid, track)
	})
	mc.OnClosed(func() { o.OnMediaDisconnect(sid) })
	mc.OnDataChannel(func(open bool) { o.OnDataChannel(sid, open) })
	mc.OnData(func(f core.Frame) { o.OnData(sid, f) })
}

// AttachMedia installs mc as the session's media connection, closing any
// previous one, and subscribes it to the room's publishers.
func (o *Orchestrator) AttachMedia(sid core.SessionID, mc core.MediaConnection) bool {
	s, ok := o.Registry.Get(sid)
	if !ok {
		return false
	}
	if old := s.UpdateMedia(mc); old != nil && old != mc {
		o.stopPublishing(s)
		old.Close()
	}
	o.OnMediaReady(sid)
	return true
}

// OnDataChannel mirrors the data channel state into the session flag.
func (o *Orchestrator) OnDataChannel(sid core.SessionID, open bool) {
	s, ok := o.Registry.Get(sid)
	if !ok {
		return
	}
	s.State().SetHasData(open)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Bool("open", open).Msg("data channel")
	if !open {
		return
	}
	if room, ok := s.State().Room(); ok {
		user, _ := s.State().User()
		o.Notifier.Notify(s, app.Event{Type: "data_ready", Room: room, User: user, Session: sid})
	}
}

func (o *Orchestrator) OnMediaDisconnect(sid core.SessionID) {
	if s, ok := o.Registry.Get(sid); ok {
		o.cleanupMedia(s)
	}
}

func (o *Orchestrator) stopPublishing(s *session.Session) {
	if o.Relays == nil {
		return
	}
	sid := s.ID()
	o.Relays.StopRelay(sid)
	if room, ok := s.State().Room(); ok {
		for _, m := range o.Registry.MembersOfRoom(room) {
			o.Relays.MarkSubscriberDelete(m.ID(), sid)
		}
	}
}

func (o *Orchestrator) cleanupMedia(s *session.Session) {
	o.stopPublishing(s)
	if mc := s.UpdateMedia(nil); mc != nil {
		s.State().SetHasData(false)
		mc.Close()
	}
}

// OnTrack starts relaying a new remote track of sid and subscribes the
// rest of its room to it.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, track *webrtc.TrackRemote) {
	if o.Relays == nil {
		return
	}
	s, ok := o.Registry.Get(sid)
	if !ok || s.Media() == nil {
		return
	}
	o.Relays.StartRelay(ctx, s, track)
	o.publishToRoom(s)
}

// publishToRoom subscribes every other member with media to s's relay.
func (o *Orchestrator) publishToRoom(s *session.Session) {
	if o.Relays == nil || !o.Relays.HasRelay(s.ID()) {
		return
	}
	room, ok := s.State().Room()
	if !ok {
		log.Debug().Str("module", "sfu").Str("sid", string(s.ID())).Msg("publisher not in a room yet")
		return
	}
	for _, m := range o.Registry.MembersOfRoom(room) {
		if m == s || m.Media() == nil {
			continue
		}
		if err := o.Relays.Subscribe(s.ID(), m); err != nil {
			log.Error().Err(err).Str("module", "sfu").Str("src_sid", string(s.ID())).Str("dst_sid", string(m.ID())).Msg("subscribe")
			continue
		}
		o.renegotiate(m.ID())
	}
}

// OnMediaReady subscribes sid to every publisher already relaying in its room.
func (o *Orchestrator) OnMediaReady(sid core.SessionID) {
	if o.Relays == nil {
		return
	}
	s, ok := o.Registry.Get(sid)
	if !ok || s.Media() == nil {
		return
	}
	room, ok := s.State().Room()
	if !ok {
		return
	}

	added := false
	for _, m := range o.Registry.MembersOfRoom(room) {
		if m == s || !o.Relays.HasRelay(m.ID()) {
			continue
		}
		if err := o.Relays.Subscribe(m.ID(), s); err != nil {
			log.Error().Err(err).Str("module", "sfu").Str("src_sid", string(m.ID())).Str("dst_sid", string(sid)).Msg("subscribe")
			continue
		}
		added = true
	}
	if added {
		o.renegotiate(sid)
	}
}

// SetMuted pauses or resumes the media sid receives from src.
func (o *Orchestrator) SetMuted(sid, src core.SessionID, muted bool) error {
	if _, ok := o.Registry.Get(sid); !ok {
		return ErrUnknownSession
	}
	if o.Relays == nil || !o.Relays.SetSubscriberMuted(src, sid, muted) {
		return ErrNotSubscribed
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("src_sid", string(src)).Bool("muted", muted).Msg("mute")
	return nil
}

func (o *Orchestrator) renegotiate(sid core.SessionID) {
	if o.Renegotiate != nil {
		o.Renegotiate(sid)
	}
}
