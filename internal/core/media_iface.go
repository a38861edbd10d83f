package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// AddLocalTrack attaches a local static RTP track to the underlying PeerConnection.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
	// OnDataChannel reports the data channel opening (true) and closing (false).
	OnDataChannel(func(open bool))
	// OnData receives messages arriving on the data channel.
	OnData(func(Frame))
	// SendData writes to the data channel; ErrClosed if none is open.
	SendData(Frame) error
}
