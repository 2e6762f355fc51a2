package call

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Beacon/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketReader is the read side of a remote track; *webrtc.TrackRemote satisfies it.
type PacketReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// StreamStats is a point-in-time view of a remote stream.
type StreamStats struct {
	Peer    domain.UserID `json:"peer"`
	Kind    string        `json:"kind,omitempty"`
	Packets uint64        `json:"packets"`
	Bytes   uint64        `json:"bytes"`
	Sinks   int           `json:"sinks"`
}

// Stream drains one remote track and fans packets out to its sinks.
type Stream struct {
	Peer domain.UserID
	Kind string
	src  PacketReader

	packets atomic.Uint64
	bytes   atomic.Uint64

	mu    sync.RWMutex
	sinks map[string]*Sink

	cancel context.CancelFunc
	done   chan struct{}
}

func newStream(peer domain.UserID, kind string, src PacketReader, cancel context.CancelFunc) *Stream {
	return &Stream{
		Peer:   peer,
		Kind:   kind,
		src:    src,
		sinks:  make(map[string]*Sink),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Stream) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("stream ctx done")
			s.markAllDelete()
			return
		default:
		}
		pkt, _, err := s.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Uint64("packets", s.packets.Load()).Msg("stream ended")
			s.markAllDelete()
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
		s.forward(pkt, logger)
	}
}

func (s *Stream) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	s.mu.RLock()
	if len(s.sinks) == 0 {
		s.mu.RUnlock()
		return
	}
	snapshot := maps.Clone(s.sinks)
	s.mu.RUnlock()

	var dirty []string
	for id, sink := range snapshot {
		switch sink.State() {
		case SinkDelete:
			dirty = append(dirty, id)
		case SinkMuted:
		case SinkOk:
			if err := sink.Writer.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("sink", id).Msg("sink write failed, removing")
				sink.MarkDelete()
				dirty = append(dirty, id)
			}
		}
	}
	if len(dirty) > 0 {
		s.mu.Lock()
		for _, id := range dirty {
			delete(s.sinks, id)
		}
		s.mu.Unlock()
	}
}

func (s *Stream) markAllDelete() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sink := range s.sinks {
		sink.MarkDelete()
	}
}

func (s *Stream) addSink(sink *Sink) {
	s.mu.Lock()
	s.sinks[sink.ID] = sink
	s.mu.Unlock()
}

func (s *Stream) sink(id string) (*Sink, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sink, ok := s.sinks[id]
	return sink, ok
}

func (s *Stream) stats() StreamStats {
	s.mu.RLock()
	n := len(s.sinks)
	s.mu.RUnlock()
	return StreamStats{
		Peer:    s.Peer,
		Kind:    s.Kind,
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
		Sinks:   n,
	}
}
