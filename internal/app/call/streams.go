package call

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/Beacon/internal/domain"
	"github.com/rs/zerolog/log"
)

// Streams maps remote peers to the media they are sending us.
// One stream per (peer, kind); a new track of the same kind replaces the old one.
type Streams struct {
	mu      sync.RWMutex
	streams map[domain.UserID]map[string]*Stream
}

func NewStreams() *Streams {
	return &Streams{streams: make(map[domain.UserID]map[string]*Stream)}
}

// Start begins draining src for peer. The reader stops when ctx ends or the
// track errors.
func (m *Streams) Start(ctx context.Context, peer domain.UserID, kind string, src PacketReader) *Stream {
	logger := log.With().
		Str("module", "app.call").
		Str("peer", string(peer)).
		Str("kind", kind).
		Logger()

	streamCtx, cancel := context.WithCancel(ctx)
	s := newStream(peer, kind, src, cancel)

	m.mu.Lock()
	byKind, ok := m.streams[peer]
	if !ok {
		byKind = make(map[string]*Stream)
		m.streams[peer] = byKind
	}
	if old, ok := byKind[kind]; ok {
		logger.Info().Msg("replacing remote stream")
		old.markAllDelete()
		old.cancel()
	}
	byKind[kind] = s
	m.mu.Unlock()

	logger.Info().Msg("remote stream started")
	go s.loop(streamCtx, &logger)
	return s
}

// AddSink attaches a consumer to every stream of peer with the given kind.
// Reports false when there is no such stream.
func (m *Streams) AddSink(peer domain.UserID, kind string, sink *Sink) bool {
	m.mu.RLock()
	s, ok := m.streams[peer][kind]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	s.addSink(sink)
	return true
}

func (m *Streams) MarkSinkDelete(peer domain.UserID, kind, sinkID string) {
	m.mu.RLock()
	s, ok := m.streams[peer][kind]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if sink, ok := s.sink(sinkID); ok {
		sink.MarkDelete()
	}
}

// SetSinkMuted flips sinkID on every stream of peer between ok and muted.
func (m *Streams) SetSinkMuted(peer domain.UserID, sinkID string, muted bool) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.streams[peer] {
		sink, ok := s.sink(sinkID)
		if !ok {
			continue
		}
		if muted {
			sink.MarkMuted()
		} else {
			sink.MarkOk()
		}
		n++
	}
	return n
}

// Stop cancels and forgets every stream of peer.
func (m *Streams) Stop(peer domain.UserID) bool {
	m.mu.Lock()
	byKind, ok := m.streams[peer]
	delete(m.streams, peer)
	m.mu.Unlock()
	for _, s := range byKind {
		s.markAllDelete()
		s.cancel()
	}
	return ok
}

func (m *Streams) StopAll() {
	m.mu.Lock()
	all := m.streams
	m.streams = make(map[domain.UserID]map[string]*Stream)
	m.mu.Unlock()
	for _, byKind := range all {
		for _, s := range byKind {
			s.markAllDelete()
			s.cancel()
		}
	}
}

func (m *Streams) Has(peer domain.UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[peer]) > 0
}

// Stats lists all streams ordered by peer then kind.
func (m *Streams) Stats() []StreamStats {
	m.mu.RLock()
	var out []StreamStats
	for _, byKind := range m.streams {
		for _, s := range byKind {
			out = append(out, s.stats())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Peer != out[j].Peer {
			return out[i].Peer < out[j].Peer
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
