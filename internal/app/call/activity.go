package call

import (
	"sync/atomic"
	"time"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/pion/rtp"
)

const (
	// EventActivity tells the UI a remote peer is sending media.
	EventActivity = "call.activity"

	activitySinkID = "activity"
	activityEvery  = time.Second
)

// activity publishes at most one EventActivity per interval while packets flow.
type activity struct {
	publisher core.Publisher
	topic     string
	peer      domain.UserID
	kind      string
	now       func() time.Time
	last      atomic.Int64
}

func (a *activity) WriteRTP(*rtp.Packet) error {
	t := a.now().UnixNano()
	prev := a.last.Load()
	if prev != 0 && t-prev < int64(activityEvery) {
		return nil
	}
	if a.last.CompareAndSwap(prev, t) {
		core.Emit(a.publisher, EventActivity, a.topic, map[string]string{"peer": string(a.peer), "kind": a.kind})
	}
	return nil
}

// Mute stops (or resumes) local handling of peer's media. It outlives the
// peer's streams, so a renegotiated track stays muted.
func (r *Relay) Mute(peer domain.UserID, muted bool) {
	r.mu.Lock()
	if muted {
		r.muted[peer] = true
	} else {
		delete(r.muted, peer)
	}
	r.mu.Unlock()
	r.Streams.SetSinkMuted(peer, activitySinkID, muted)
	r.logger.Info().Str("peer", string(peer)).Bool("muted", muted).Msg("peer mute changed")
}

func (r *Relay) Muted(peer domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.muted[peer]
}

func (r *Relay) attachActivity(s *Stream) {
	sink := NewSink(activitySinkID, &activity{
		publisher: r.deps.Publisher,
		topic:     r.topic,
		peer:      s.Peer,
		kind:      s.Kind,
		now:       time.Now,
	})
	if r.Muted(s.Peer) {
		sink.MarkMuted()
	}
	s.addSink(sink)
}
