package app

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/rs/zerolog/log"
)

type SubscriberID string

type subscriber struct {
	conn    core.SignalConnection
	strikes int
	slow    bool
}

type PublishResult struct {
	SendTo  int
	Dropped []SubscriberID
	Kicked  []SubscriberID
}

// Hub fans render events out to UI subscribers.
// It closes only connections it kicks.
type Hub struct {
	policy Policy

	mu   sync.RWMutex
	subs map[SubscriberID]*subscriber
}

var _ core.Publisher = (*Hub)(nil)

func NewHub(policy Policy) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{policy: policy, subs: make(map[SubscriberID]*subscriber)}
}

func (h *Hub) AddSubscriber(id SubscriberID, conn core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[id] = &subscriber{conn: conn}
	log.Info().Str("module", "app.hub").Str("sub", string(id)).Msg("subscriber added")
}

func (h *Hub) RemoveSubscriber(id SubscriberID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
	log.Info().Str("module", "app.hub").Str("sub", string(id)).Msg("subscriber removed")
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// IsSlow reports whether the policy marked a subscriber as slow.
func (h *Hub) IsSlow(id SubscriberID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.subs[id]
	return ok && s.slow
}

func (h *Hub) Publish(ev core.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Str("type", ev.Type).Msg("marshal event")
		return
	}
	h.Broadcast(data)
}

// Broadcast sends a raw frame to every subscriber and applies the policy to the ones that are full.
func (h *Hub) Broadcast(data core.Frame) PublishResult {
	h.mu.Lock()
	res := PublishResult{}
	var kicked []*subscriber
	for id, s := range h.subs {
		if err := s.conn.TrySend(data); err != nil {
			s.strikes++
			res.Dropped = append(res.Dropped, id)
			switch h.policy.OnBackPressure(id, s.strikes) {
			case KickSubscriber:
				delete(h.subs, id)
				kicked = append(kicked, s)
				res.Kicked = append(res.Kicked, id)
			case MarkSlow:
				s.slow = true
			case DropFrame, NoAction:
			}
			continue
		}
		s.strikes = 0
		s.slow = false
		res.SendTo++
	}
	h.mu.Unlock()

	for _, s := range kicked {
		s.conn.Close()
	}
	if len(res.Dropped) > 0 {
		log.Debug().Str("module", "app.hub").Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Int("kicked", len(res.Kicked)).Msg("broadcast result")
	}
	return res
}
