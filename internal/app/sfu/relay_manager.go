package sfu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/session"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoRelay = errors.New("no relay for publisher")
	ErrNoMedia = errors.New("subscriber has no media connection")
)

// RelayManager owns one Relay per publishing session.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[core.SessionID]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[core.SessionID]*Relay),
	}
}

// StartRelay replaces any relay of pub with one reading track.
func (m *RelayManager) StartRelay(ctx context.Context, pub *session.Session, track *webrtc.TrackRemote) {
	logger := log.With().Str("module", "relay").Str("sid", string(pub.ID())).Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(pub, track, cancel)
	if old := m.swap(pub.ID(), relay); old != nil {
		logger.Info().Msg("replacing relay")
		old.stop()
	}
	logger.Info().Str("track_id", track.ID()).Msg("relay started")
	go relay.run(relayCtx, &logger)
}

func (m *RelayManager) swap(sid core.SessionID, r *Relay) *Relay {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.relays[sid]
	if r == nil {
		delete(m.relays, sid)
	} else {
		m.relays[sid] = r
	}
	return old
}

func (m *RelayManager) relay(sid core.SessionID) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relays[sid]
	return r, ok
}

// Subscribe mirrors the publisher's track onto dst's media connection.
// The caller renegotiates dst afterwards.
func (m *RelayManager) Subscribe(src core.SessionID, dst *session.Session) error {
	relay, ok := m.relay(src)
	if !ok {
		return fmt.Errorf("%w %s", ErrNoRelay, src)
	}
	mc := dst.Media()
	if mc == nil {
		return ErrNoMedia
	}
	track := relay.Src()
	local, err := webrtc.NewTrackLocalStaticRTP(track.Codec().RTPCodecCapability, track.ID(), track.StreamID())
	if err != nil {
		return fmt.Errorf("new local track: %w", err)
	}
	if _, err := mc.AddLocalTrack(local); err != nil {
		return fmt.Errorf("add local track: %w", err)
	}
	relay.add(NewOutTrack(dst, local))
	log.Info().Str("module", "relay").Str("src_sid", string(src)).Str("dst_sid", string(dst.ID())).Msg("subscribed")
	return nil
}

// MarkSubscriberDelete stops forwarding from src to dst.
func (m *RelayManager) MarkSubscriberDelete(src, dst core.SessionID) {
	relay, ok := m.relay(src)
	if !ok {
		return
	}
	if ot, ok := relay.subscriber(dst); ok {
		ot.MarkDelete()
	}
}

// SetSubscriberMuted pauses or resumes forwarding from src to dst.
// It reports false when dst is not subscribed to src.
func (m *RelayManager) SetSubscriberMuted(src, dst core.SessionID, muted bool) bool {
	relay, ok := m.relay(src)
	if !ok {
		return false
	}
	ot, ok := relay.subscriber(dst)
	if !ok || ot.GetState() == TrackStateDelete {
		return false
	}
	if muted {
		ot.MarkMuted()
	} else {
		ot.MarkOk()
	}
	return true
}

func (m *RelayManager) StopRelay(src core.SessionID) {
	if old := m.swap(src, nil); old != nil {
		old.stop()
	}
}

func (r *Relay) stop() {
	r.markAllDelete()
	if r.cancel != nil {
		r.cancel()
	}
}

func (m *RelayManager) HasRelay(sid core.SessionID) bool {
	_, ok := m.relay(sid)
	return ok
}

// Subscribers returns the live subscriber count of src's relay.
func (m *RelayManager) Subscribers(src core.SessionID) int {
	relay, ok := m.relay(src)
	if !ok {
		return 0
	}
	return relay.Subscribers()
}
