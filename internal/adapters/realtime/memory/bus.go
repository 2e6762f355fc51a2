// Package memory is an in-process realtime bus with the same delivery
// rules as the server: broadcasts skip the sender, presence is keyed,
// and each subscriber receives events in order on its own goroutine.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Beacon/internal/adapters/realtime"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/rs/zerolog/log"
)

const inboxSize = 1024

type Bus struct {
	mu      sync.Mutex
	topics  map[string]map[*Channel]struct{}
	limiter *realtime.RateLimiter
}

var _ core.ChannelFactory = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[*Channel]struct{})}
}

// LimitBroadcasts applies the server's per-channel broadcast limit: each
// channel may send n broadcasts per interval, the rest get core.ErrRateLimited.
func (b *Bus) LimitBroadcasts(n int, per time.Duration) {
	b.mu.Lock()
	b.limiter = realtime.NewRateLimiter(n, per)
	b.mu.Unlock()
}

func (b *Bus) allow(ch *Channel) bool {
	b.mu.Lock()
	l := b.limiter
	b.mu.Unlock()
	return l.Allow(ch.topic + "/" + ch.key)
}

func (b *Bus) Channel(topic, presenceKey string) core.Channel {
	return &Channel{
		bus:       b,
		topic:     topic,
		key:       presenceKey,
		broadcast: make(map[string][]func(core.Broadcast)),
	}
}

// Emit delivers a row change to every subscriber whose filter matches it.
func (b *Bus) Emit(c core.Change) {
	for _, ch := range b.all() {
		ch.deliverChange(c)
	}
}

func (b *Bus) all() []*Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Channel
	for _, subs := range b.topics {
		for ch := range subs {
			out = append(out, ch)
		}
	}
	return out
}

func (b *Bus) members(topic string) []*Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Channel, 0, len(b.topics[topic]))
	for ch := range b.topics[topic] {
		out = append(out, ch)
	}
	return out
}

func (b *Bus) presence(topic string) core.PresenceSet {
	set := core.PresenceSet{}
	for _, ch := range b.members(topic) {
		ch.mu.Lock()
		if ch.meta != nil {
			set[ch.key] = append(set[ch.key], ch.meta)
		}
		ch.mu.Unlock()
	}
	return set
}

type changeBinding struct {
	filter core.ChangeFilter
	fn     func(core.Change)
}

type Channel struct {
	bus   *Bus
	topic string
	key   string

	mu        sync.Mutex
	joined    bool
	closed    bool
	meta      json.RawMessage
	inbox     chan func()
	broadcast map[string][]func(core.Broadcast)
	onSync    []func(core.PresenceSet)
	onJoin    []func(string, []json.RawMessage)
	onLeave   []func(string, []json.RawMessage)
	changes   []changeBinding
}

func (ch *Channel) Topic() string { return ch.topic }

func (ch *Channel) OnBroadcast(event string, fn func(core.Broadcast)) {
	ch.mu.Lock()
	ch.broadcast[event] = append(ch.broadcast[event], fn)
	ch.mu.Unlock()
}

func (ch *Channel) OnPresenceSync(fn func(core.PresenceSet)) {
	ch.mu.Lock()
	ch.onSync = append(ch.onSync, fn)
	ch.mu.Unlock()
}

func (ch *Channel) OnPresenceJoin(fn func(string, []json.RawMessage)) {
	ch.mu.Lock()
	ch.onJoin = append(ch.onJoin, fn)
	ch.mu.Unlock()
}

func (ch *Channel) OnPresenceLeave(fn func(string, []json.RawMessage)) {
	ch.mu.Lock()
	ch.onLeave = append(ch.onLeave, fn)
	ch.mu.Unlock()
}

func (ch *Channel) OnChange(f core.ChangeFilter, fn func(core.Change)) {
	ch.mu.Lock()
	ch.changes = append(ch.changes, changeBinding{filter: f, fn: fn})
	ch.mu.Unlock()
}

func (ch *Channel) Subscribe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return core.ErrChannelClosed
	}
	if ch.joined {
		ch.mu.Unlock()
		return nil
	}
	ch.joined = true
	ch.inbox = make(chan func(), inboxSize)
	go ch.run(ch.inbox)
	ch.mu.Unlock()

	ch.bus.mu.Lock()
	subs, ok := ch.bus.topics[ch.topic]
	if !ok {
		subs = make(map[*Channel]struct{})
		ch.bus.topics[ch.topic] = subs
	}
	subs[ch] = struct{}{}
	ch.bus.mu.Unlock()

	snap := ch.bus.presence(ch.topic)
	ch.enqueue(func() { ch.emitSync(snap) })
	return nil
}

func (ch *Channel) run(inbox chan func()) {
	for fn := range inbox {
		fn()
	}
}

func (ch *Channel) enqueue(fn func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.joined {
		return
	}
	select {
	case ch.inbox <- fn:
	default:
		log.Warn().Str("module", "realtime.memory").Str("topic", ch.topic).Msg("inbox full, event dropped")
	}
}

func (ch *Channel) Broadcast(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ch.isJoined() {
		return core.ErrChannelClosed
	}
	if !ch.bus.allow(ch) {
		return core.ErrRateLimited
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := core.Broadcast{Event: event, Payload: raw}
	for _, other := range ch.bus.members(ch.topic) {
		if other == ch {
			continue
		}
		other.deliverBroadcast(msg)
	}
	return nil
}

func (ch *Channel) Track(ctx context.Context, meta any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ch.isJoined() {
		return core.ErrChannelClosed
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, had := ch.bus.presence(ch.topic)[ch.key]
	ch.mu.Lock()
	ch.meta = raw
	ch.mu.Unlock()

	snap := ch.bus.presence(ch.topic)
	metas := []json.RawMessage{raw}
	for _, m := range ch.bus.members(ch.topic) {
		m.enqueue(func() {
			if !had {
				m.emitJoin(ch.key, metas)
			}
			m.emitSync(snap)
		})
	}
	return nil
}

func (ch *Channel) Untrack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch.untrack()
	return nil
}

func (ch *Channel) untrack() {
	ch.mu.Lock()
	meta := ch.meta
	ch.meta = nil
	ch.mu.Unlock()
	if meta == nil {
		return
	}
	snap := ch.bus.presence(ch.topic)
	_, still := snap[ch.key]
	metas := []json.RawMessage{meta}
	for _, m := range ch.bus.members(ch.topic) {
		m.enqueue(func() {
			if !still {
				m.emitLeave(ch.key, metas)
			}
			m.emitSync(snap)
		})
	}
}

func (ch *Channel) Close(ctx context.Context) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	ch.mu.Unlock()

	ch.bus.mu.Lock()
	delete(ch.bus.topics[ch.topic], ch)
	if len(ch.bus.topics[ch.topic]) == 0 {
		delete(ch.bus.topics, ch.topic)
	}
	ch.bus.mu.Unlock()

	ch.untrack()

	ch.mu.Lock()
	if ch.joined {
		ch.joined = false
		close(ch.inbox)
	}
	ch.broadcast = make(map[string][]func(core.Broadcast))
	ch.onSync, ch.onJoin, ch.onLeave, ch.changes = nil, nil, nil, nil
	ch.mu.Unlock()
	return nil
}

func (ch *Channel) isJoined() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joined
}

func (ch *Channel) deliverBroadcast(msg core.Broadcast) {
	ch.enqueue(func() {
		ch.mu.Lock()
		fns := append([]func(core.Broadcast){}, ch.broadcast[msg.Event]...)
		ch.mu.Unlock()
		for _, fn := range fns {
			fn(msg)
		}
	})
}

func (ch *Channel) deliverChange(c core.Change) {
	ch.enqueue(func() {
		ch.mu.Lock()
		var fns []func(core.Change)
		for _, b := range ch.changes {
			if matches(b.filter, c) {
				fns = append(fns, b.fn)
			}
		}
		ch.mu.Unlock()
		for _, fn := range fns {
			fn(c)
		}
	})
}

func (ch *Channel) emitSync(set core.PresenceSet) {
	ch.mu.Lock()
	fns := append([]func(core.PresenceSet){}, ch.onSync...)
	ch.mu.Unlock()
	for _, fn := range fns {
		fn(set)
	}
}

func (ch *Channel) emitJoin(key string, metas []json.RawMessage) {
	ch.mu.Lock()
	fns := append([]func(string, []json.RawMessage){}, ch.onJoin...)
	ch.mu.Unlock()
	for _, fn := range fns {
		fn(key, metas)
	}
}

func (ch *Channel) emitLeave(key string, metas []json.RawMessage) {
	ch.mu.Lock()
	fns := append([]func(string, []json.RawMessage){}, ch.onLeave...)
	ch.mu.Unlock()
	for _, fn := range fns {
		fn(key, metas)
	}
}

// matches supports the eq. filter form, e.g. group_id=eq.7.
func matches(f core.ChangeFilter, c core.Change) bool {
	if f.Table != "" && f.Table != c.Table {
		return false
	}
	if f.Event != "" && f.Event != "*" && f.Event != c.Type {
		return false
	}
	if f.Filter == "" {
		return true
	}
	col, val, ok := strings.Cut(f.Filter, "=eq.")
	if !ok {
		return true
	}
	var row map[string]any
	if err := json.Unmarshal(c.Record, &row); err != nil {
		return false
	}
	v, ok := row[col]
	if !ok {
		return false
	}
	switch x := v.(type) {
	case string:
		return x == val
	default:
		b, _ := json.Marshal(x)
		return string(b) == val
	}
}
