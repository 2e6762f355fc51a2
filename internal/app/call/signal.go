// Package call relays WebRTC signaling between group members over a realtime
// channel. Each remote participant gets one peer connection.
package call

import (
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Broadcast events on webrtc-group-{id}.
const (
	EventOffer     = "webrtc-offer"
	EventAnswer    = "webrtc-answer"
	EventCandidate = "webrtc-ice-candidate"
	EventHangup    = "webrtc-hangup"
	EventJoin      = "webrtc-join"
)

// UI event types.
const (
	EventPeerState    = "call.peer"
	EventStreamAdded  = "call.stream.added"
	EventStreamRemove = "call.stream.removed"
)

// Signal is the payload of every call broadcast. To is empty for join and hangup.
type Signal struct {
	From      domain.UserID              `json:"senderId"`
	To        domain.UserID              `json:"targetId,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

type PeerState int32

const (
	PeerIdle PeerState = iota
	PeerOffered
	PeerAnswered
	PeerConnected
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerIdle:
		return "idle"
	case PeerOffered:
		return "offered"
	case PeerAnswered:
		return "answered"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	}
	return "unknown"
}

func (s PeerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// next reports whether a peer may move from s to to. States only advance;
// closed is reachable from anywhere and final.
func (s PeerState) next(to PeerState) bool {
	if s == PeerClosed {
		return false
	}
	return to == PeerClosed || to == s+1
}

// PeerInfo is a snapshot of one remote participant.
type PeerInfo struct {
	ID    domain.UserID `json:"id"`
	State PeerState     `json:"state"`
}
