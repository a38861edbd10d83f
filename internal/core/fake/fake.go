// Package fake provides in-memory SignalConnection and MediaConnection
// implementations for tests.
package fake

import (
	"context"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/pion/webrtc/v4"
)

// Signal records frames and can simulate a full queue.
type Signal struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed int
}

func NewSignal() *Signal { return &Signal{} }

func (s *Signal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed > 0 {
		return core.ErrClosed
	}
	if s.full {
		return core.ErrBackpressure
	}
	cp := make(core.Frame, len(f))
	copy(cp, f)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *Signal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

// SetFull makes TrySend report backpressure.
func (s *Signal) SetFull(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.full = v
}

func (s *Signal) Frames() []core.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *Signal) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Media is a MediaConnection without a peer connection behind it.
type Media struct {
	mu       sync.Mutex
	closed   int
	dataOpen bool
	sent     []core.Frame
	tracks   []*webrtc.TrackLocalStaticRTP

	onClosed func()
	onData   func(core.Frame)
	onDC     func(bool)
	onTrack  func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)
	onICE    func(webrtc.ICECandidateInit)
}

func NewMedia() *Media { return &Media{} }

func (m *Media) Start(context.Context) error { return nil }

func (m *Media) Close() {
	m.mu.Lock()
	m.closed++
	m.dataOpen = false
	m.mu.Unlock()
}

func (m *Media) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed > 0
}

func (m *Media) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Media) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (m *Media) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: offer.SDP}, nil
}

func (m *Media) ApplyAnswer(webrtc.SessionDescription) error { return nil }

func (m *Media) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake"}, nil
}

func (m *Media) OnICECandidate(fn func(webrtc.ICECandidateInit)) { m.onICE = fn }

func (m *Media) OnTrack(fn func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.onTrack = fn
}

func (m *Media) AddLocalTrack(t *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, t)
	return nil, nil
}

func (m *Media) OnClosed(fn func())          { m.onClosed = fn }
func (m *Media) OnDataChannel(fn func(bool)) { m.onDC = fn }
func (m *Media) OnData(fn func(core.Frame))  { m.onData = fn }

func (m *Media) SendData(f core.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dataOpen {
		return core.ErrClosed
	}
	m.sent = append(m.sent, f)
	return nil
}

// OpenData simulates the data channel opening and fires the callback.
func (m *Media) OpenData() {
	m.mu.Lock()
	m.dataOpen = true
	fn := m.onDC
	m.mu.Unlock()
	if fn != nil {
		fn(true)
	}
}

// CloseData simulates the data channel closing.
func (m *Media) CloseData() {
	m.mu.Lock()
	m.dataOpen = false
	fn := m.onDC
	m.mu.Unlock()
	if fn != nil {
		fn(false)
	}
}

// Receive simulates an inbound data channel message.
func (m *Media) Receive(f core.Frame) {
	if m.onData != nil {
		m.onData(f)
	}
}

// Disconnect simulates the peer connection failing.
func (m *Media) Disconnect() {
	if m.onClosed != nil {
		m.onClosed()
	}
}

func (m *Media) Sent() []core.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Frame, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *Media) LocalTracks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks)
}
