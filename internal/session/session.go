// Package session holds the per-connection state of the relay.
//
// State is the lock-free part read on the forwarding path. Session is the
// reference-counted handle that embeds it together with the rarely touched
// fields (username, transports) guarded by a mutex that State never needs.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/rs/zerolog/log"
)

type Session struct {
	id        core.SessionID
	createdAt time.Time

	state State

	refs      atomic.Int32
	onRelease func(*Session)

	mu       sync.RWMutex
	username string
	signal   core.SignalConnection
	media    core.MediaConnection
}

// New returns a session holding one reference, owned by the caller.
// State is fully constructed before the pointer escapes.
func New(id core.SessionID) *Session {
	s := &Session{id: id, createdAt: time.Now()}
	s.refs.Store(1)
	return s
}

func (s *Session) ID() core.SessionID   { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the embedded state. The pointer stays valid for the session lifetime.
func (s *Session) State() *State { return &s.state }

// OnRelease installs a hook run once when the last reference is released.
// Must be called before the session is shared.
func (s *Session) OnRelease(fn func(*Session)) { s.onRelease = fn }

// Retain takes an additional reference. It fails once the session was released.
func (s *Session) Retain() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. The last one closes the transports and runs the hook.
func (s *Session) Release() {
	n := s.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		log.Warn().Str("module", "session").Str("sid", string(s.id)).Msg("release below zero")
		return
	}

	s.mu.Lock()
	sig, media := s.signal, s.media
	s.signal, s.media = nil, nil
	s.mu.Unlock()

	if media != nil {
		media.Close()
	}
	if sig != nil {
		sig.Close()
	}
	if s.onRelease != nil {
		s.onRelease(s)
	}
	log.Debug().Str("module", "session").Str("sid", string(s.id)).Msg("released")
}

// Alive reports whether at least one reference is held.
func (s *Session) Alive() bool { return s.refs.Load() > 0 }

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) SetUsername(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = name
}

func (s *Session) Signal() core.SignalConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signal
}

func (s *Session) UpdateSignal(c core.SignalConnection) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signal = c
	return s
}

func (s *Session) Media() core.MediaConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.media
}

// UpdateMedia swaps the media connection and returns the previous one, if any.
func (s *Session) UpdateMedia(c core.MediaConnection) core.MediaConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.media
	s.media = c
	return old
}

// SendData delivers a data frame, preferring the data channel and falling
// back to the signaling socket.
func (s *Session) SendData(f core.Frame) error {
	if mc := s.Media(); mc != nil {
		if err := mc.SendData(f); err == nil {
			return nil
		}
	}
	if sc := s.Signal(); sc != nil {
		return sc.TrySend(f)
	}
	return core.ErrClosed
}
