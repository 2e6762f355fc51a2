package call

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type SinkState int32

const (
	SinkOk SinkState = iota
	SinkMuted
	SinkDelete
)

// PacketWriter receives forwarded RTP, e.g. a *webrtc.TrackLocalStaticRTP.
type PacketWriter interface {
	WriteRTP(*rtp.Packet) error
}

// Sink is one consumer of a remote stream.
type Sink struct {
	ID     string
	Writer PacketWriter
	state  atomic.Int32 // zero value is SinkOk
}

func NewSink(id string, w PacketWriter) *Sink {
	return &Sink{ID: id, Writer: w}
}

func (s *Sink) State() SinkState { return SinkState(s.state.Load()) }
func (s *Sink) MarkOk()          { s.state.Store(int32(SinkOk)) }
func (s *Sink) MarkMuted()       { s.state.Store(int32(SinkMuted)) }
func (s *Sink) MarkDelete()      { s.state.Store(int32(SinkDelete)) }
