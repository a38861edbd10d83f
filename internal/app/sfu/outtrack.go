package sfu

import (
	"sync/atomic"

	"github.com/dkeye/Relay/internal/session"
	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

func (s TrackState) String() string {
	switch s {
	case TrackStateOk:
		return "ok"
	case TrackStateMuted:
		return "muted"
	case TrackStateDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// OutTrack is one subscriber's copy of a publisher track.
// Delete is terminal: Mark* calls after it are ignored.
type OutTrack struct {
	Track *webrtc.TrackLocalStaticRTP
	Dst   *session.Session
	state atomic.Int32
}

func NewOutTrack(dst *session.Session, track *webrtc.TrackLocalStaticRTP) *OutTrack {
	return &OutTrack{Track: track, Dst: dst}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk()     { ot.transition(TrackStateOk) }
func (ot *OutTrack) MarkMuted()  { ot.transition(TrackStateMuted) }
func (ot *OutTrack) MarkDelete() { ot.state.Store(int32(TrackStateDelete)) }

func (ot *OutTrack) transition(to TrackState) {
	for {
		cur := ot.state.Load()
		if TrackState(cur) == TrackStateDelete {
			return
		}
		if ot.state.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}
