package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection is the peer connection towards one remote call participant.
type MediaConnection interface {
	// Start wires callbacks and ties the connection to ctx.
	Start(ctx context.Context) error
	Close()
	CreateOffer() (*webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate receives local candidates as they are gathered.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack fires once per remote track.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	OnStateChange(func(webrtc.PeerConnectionState))
	// OnClosed fires once after Close or a failed connection.
	OnClosed(func())
}

// MediaFactory builds a connection towards one remote peer.
type MediaFactory func(remote string) (MediaConnection, error)
