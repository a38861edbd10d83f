package sfu

import (
	"context"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/session"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Relay fans RTP from one publisher's track out to its subscribers.
// Membership is re-checked against session state on every packet, so a
// subscriber that was released or is not in the publisher's room stops
// receiving without any explicit unsubscribe.
type Relay struct {
	pub *session.Session
	src *webrtc.TrackRemote

	mu   sync.RWMutex
	subs map[core.SessionID]*OutTrack

	cancel context.CancelFunc
}

func NewRelay(pub *session.Session, src *webrtc.TrackRemote, cancel context.CancelFunc) *Relay {
	return &Relay{
		pub:    pub,
		src:    src,
		subs:   make(map[core.SessionID]*OutTrack),
		cancel: cancel,
	}
}

func (r *Relay) Src() *webrtc.TrackRemote { return r.src }

func (r *Relay) run(ctx context.Context, logger *zerolog.Logger) {
	defer r.markAllDelete()
	for ctx.Err() == nil {
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("read RTP, relay stopped")
			}
			return
		}
		r.forward(pkt, logger)
	}
	logger.Debug().Msg("relay ctx done")
}

// forward writes pkt to every eligible subscriber and returns how many
// writes succeeded.
func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) int {
	r.mu.RLock()
	subs := make([]*OutTrack, 0, len(r.subs))
	for _, ot := range r.subs {
		subs = append(subs, ot)
	}
	r.mu.RUnlock()

	written, stale := 0, false
	for _, ot := range subs {
		if !r.eligible(ot) {
			ot.MarkDelete()
		}
		switch ot.GetState() {
		case TrackStateDelete:
			stale = true
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("dst_sid", string(ot.Dst.ID())).Msg("write RTP, dropping subscriber")
				ot.MarkDelete()
				stale = true
				continue
			}
			written++
		}
	}
	if stale {
		r.prune()
	}
	return written
}

// eligible reports whether ot's subscriber still shares a room with the publisher.
func (r *Relay) eligible(ot *OutTrack) bool {
	if !ot.Dst.Alive() {
		return false
	}
	room, ok := r.pub.State().Room()
	return ok && ot.Dst.State().InRoom(room)
}

func (r *Relay) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, ot := range r.subs {
		if ot.GetState() == TrackStateDelete {
			delete(r.subs, sid)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ot := range r.subs {
		ot.MarkDelete()
	}
}

func (r *Relay) add(ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.subs[ot.Dst.ID()]; ok {
		old.MarkDelete()
	}
	r.subs[ot.Dst.ID()] = ot
}

func (r *Relay) subscriber(dst core.SessionID) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.subs[dst]
	return ot, ok
}

// Subscribers returns the number of out tracks not yet pruned.
func (r *Relay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
