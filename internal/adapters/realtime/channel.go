package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/rs/zerolog/log"
)

type changeBinding struct {
	filter changeFilter
	fn     func(core.Change)
}

// Channel is one topic joined over a Client socket.
type Channel struct {
	client      *Client
	name        string
	topic       string
	presenceKey string

	mu        sync.RWMutex
	joined    bool
	closed    bool
	joinRef   string
	broadcast map[string][]func(core.Broadcast)
	onSync    []func(core.PresenceSet)
	onJoin    []func(string, []json.RawMessage)
	onLeave   []func(string, []json.RawMessage)
	changes   []*changeBinding
	presence  presenceState
}

var _ core.Channel = (*Channel)(nil)

func newChannel(c *Client, name, presenceKey string) *Channel {
	return &Channel{
		client:      c,
		name:        name,
		topic:       topicPrefix + name,
		presenceKey: presenceKey,
		broadcast:   make(map[string][]func(core.Broadcast)),
		presence:    make(presenceState),
	}
}

func (ch *Channel) Topic() string { return ch.name }

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
	if f.Schema == "" {
		f.Schema = "public"
	}
	if f.Event == "" {
		f.Event = "*"
	}
	ch.mu.Lock()
	ch.changes = append(ch.changes, &changeBinding{
		filter: changeFilter{Event: f.Event, Schema: f.Schema, Table: f.Table, Filter: f.Filter},
		fn:     fn,
	})
	ch.mu.Unlock()
}

func (ch *Channel) isJoined() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.joined
}

func (ch *Channel) setJoined(v bool) {
	ch.mu.Lock()
	ch.joined = v
	ch.mu.Unlock()
}

func (ch *Channel) Subscribe(ctx context.Context) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return core.ErrChannelClosed
	}
	var p joinPayload
	p.Config.Presence.Key = ch.presenceKey
	p.Config.PostgresChanges = make([]changeFilter, 0, len(ch.changes))
	for _, b := range ch.changes {
		p.Config.PostgresChanges = append(p.Config.PostgresChanges, b.filter)
	}
	ref := ch.client.nextRef()
	ch.joinRef = ref
	ch.mu.Unlock()

	p.AccessToken = ch.client.accessToken()
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}

	ch.client.register(ch)
	reply, err := ch.client.request(ctx, Message{Topic: ch.topic, Event: EventJoin, Payload: payload, Ref: ref, JoinRef: ref})
	if err != nil {
		ch.client.unregister(ch)
		return fmt.Errorf("join %s: %w", ch.name, err)
	}
	if reply.Status != "ok" {
		ch.client.unregister(ch)
		return fmt.Errorf("join %s: server replied %s: %s", ch.name, reply.Status, string(reply.Response))
	}

	var resp joinResponse
	if len(reply.Response) > 0 {
		_ = json.Unmarshal(reply.Response, &resp)
	}
	ch.mu.Lock()
	for i, srv := range resp.PostgresChanges {
		if i < len(ch.changes) {
			ch.changes[i].filter.ID = srv.ID
		}
	}
	ch.joined = true
	ch.mu.Unlock()

	log.Info().Str("module", "realtime").Str("topic", ch.name).Str("presence_key", ch.presenceKey).Msg("joined")
	return nil
}

func (ch *Channel) Broadcast(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ch.isJoined() {
		return core.ErrChannelClosed
	}
	if !ch.client.limiter.Allow(ch.topic) {
		return ErrRateLimited
	}
	inner, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broadcast %s: %w", event, err)
	}
	body, _ := json.Marshal(broadcastPayload{Type: EventBroadcast, Event: event, Payload: inner})
	return ch.client.push(Message{Topic: ch.topic, Event: EventBroadcast, Payload: body, Ref: ch.client.nextRef(), JoinRef: ch.currentJoinRef()})
}

func (ch *Channel) Track(ctx context.Context, meta any) error {
	return ch.pushPresence(ctx, presencePush{Type: EventPresence, Event: "track", Payload: meta})
}

func (ch *Channel) Untrack(ctx context.Context) error {
	return ch.pushPresence(ctx, presencePush{Type: EventPresence, Event: "untrack"})
}

func (ch *Channel) pushPresence(ctx context.Context, p presencePush) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ch.isJoined() {
		return core.ErrChannelClosed
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("presence %s: %w", p.Event, err)
	}
	return ch.client.push(Message{Topic: ch.topic, Event: EventPresence, Payload: body, Ref: ch.client.nextRef(), JoinRef: ch.currentJoinRef()})
}

func (ch *Channel) currentJoinRef() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.joinRef
}

// Close leaves the topic and drops handlers and cached presence.
func (ch *Channel) Close(ctx context.Context) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	wasJoined := ch.joined
	ch.joined = false
	joinRef := ch.joinRef
	ch.broadcast = make(map[string][]func(core.Broadcast))
	ch.onSync, ch.onJoin, ch.onLeave, ch.changes = nil, nil, nil, nil
	ch.presence = make(presenceState)
	ch.mu.Unlock()

	ch.client.unregister(ch)
	if !wasJoined {
		return nil
	}
	log.Info().Str("module", "realtime").Str("topic", ch.name).Msg("leaving")
	err := ch.client.push(Message{Topic: ch.topic, Event: EventLeave, Payload: json.RawMessage("{}"), Ref: ch.client.nextRef(), JoinRef: joinRef})
	if err == ErrNotConnected {
		return nil
	}
	return err
}

func (ch *Channel) dispatch(m Message) {
	switch m.Event {
	case EventBroadcast:
		ch.handleBroadcast(m.Payload)
	case EventPresenceState:
		ch.handlePresenceState(m.Payload)
	case EventPresenceDiff:
		ch.handlePresenceDiff(m.Payload)
	case EventChanges:
		ch.handleChanges(m.Payload)
	case EventClose, EventError:
		ch.setJoined(false)
		log.Warn().Str("module", "realtime").Str("topic", ch.name).Str("event", m.Event).Msg("channel terminated by server")
	case EventReply, EventSystem:
	default:
		log.Debug().Str("module", "realtime").Str("topic", ch.name).Str("event", m.Event).Msg("unhandled event")
	}
}

func (ch *Channel) handleBroadcast(raw json.RawMessage) {
	var p broadcastPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error().Err(err).Str("module", "realtime").Str("topic", ch.name).Msg("bad broadcast")
		return
	}
	ch.mu.RLock()
	fns := append([]func(core.Broadcast){}, ch.broadcast[p.Event]...)
	ch.mu.RUnlock()
	for _, fn := range fns {
		fn(core.Broadcast{Event: p.Event, Payload: p.Payload})
	}
}

func (ch *Channel) handlePresenceState(raw json.RawMessage) {
	var next map[string]presenceEntry
	if err := json.Unmarshal(raw, &next); err != nil {
		log.Error().Err(err).Str("module", "realtime").Str("topic", ch.name).Msg("bad presence_state")
		return
	}
	ch.mu.Lock()
	state, joins, leaves := syncState(ch.presence, next)
	ch.presence = state
	snap := state.snapshot()
	ch.mu.Unlock()
	ch.emitPresence(joins, leaves, snap)
}

func (ch *Channel) handlePresenceDiff(raw json.RawMessage) {
	var d presenceDiff
	if err := json.Unmarshal(raw, &d); err != nil {
		log.Error().Err(err).Str("module", "realtime").Str("topic", ch.name).Msg("bad presence_diff")
		return
	}
	ch.mu.Lock()
	joins, leaves := syncDiff(ch.presence, d)
	snap := ch.presence.snapshot()
	ch.mu.Unlock()
	ch.emitPresence(joins, leaves, snap)
}

func (ch *Channel) emitPresence(joins, leaves []presenceChange, snap core.PresenceSet) {
	ch.mu.RLock()
	onJoin := append([]func(string, []json.RawMessage){}, ch.onJoin...)
	onLeave := append([]func(string, []json.RawMessage){}, ch.onLeave...)
	onSync := append([]func(core.PresenceSet){}, ch.onSync...)
	ch.mu.RUnlock()

	for _, j := range joins {
		for _, fn := range onJoin {
			fn(j.key, j.metas)
		}
	}
	for _, l := range leaves {
		for _, fn := range onLeave {
			fn(l.key, l.metas)
		}
	}
	for _, fn := range onSync {
		fn(snap)
	}
}

func (ch *Channel) handleChanges(raw json.RawMessage) {
	var p changesPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error().Err(err).Str("module", "realtime").Str("topic", ch.name).Msg("bad postgres_changes")
		return
	}
	var c core.Change
	if err := json.Unmarshal(p.Data, &c); err != nil {
		log.Error().Err(err).Str("module", "realtime").Str("topic", ch.name).Msg("bad change data")
		return
	}

	ch.mu.RLock()
	var fns []func(core.Change)
	for _, b := range ch.changes {
		if matches(b.filter, p.IDs, c) {
			fns = append(fns, b.fn)
		}
	}
	ch.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

func matches(f changeFilter, ids []int64, c core.Change) bool {
	if len(ids) > 0 && f.ID != 0 {
		for _, id := range ids {
			if id == f.ID {
				return true
			}
		}
		return false
	}
	if f.Table != "" && f.Table != c.Table {
		return false
	}
	if f.Schema != "" && c.Schema != "" && f.Schema != c.Schema {
		return false
	}
	return f.Event == "*" || f.Event == c.Type
}
