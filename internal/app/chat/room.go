// Package chat runs one group conversation: history, live inserts and presence.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/app/media"
	"github.com/dkeye/Beacon/internal/app/presence"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	table         = "messages"
	MaxTextLength = 4000
)

// Event types published for UI subscribers.
const (
	EventMessage  = "chat.message"
	EventPresence = "chat.presence"
)

type Deps struct {
	Tables    core.TableClient
	Channels  core.ChannelFactory
	Pipeline  *media.Pipeline
	Publisher core.Publisher
	Alerts    *alert.Sink
}

type Room struct {
	deps     Deps
	group    domain.GroupID
	me       domain.User
	topic    string
	ch       core.Channel
	Presence *presence.Table
	logger   zerolog.Logger

	mu       sync.RWMutex
	messages []domain.Message
	seen     map[domain.MessageID]bool
	closed   bool
}

// Open loads the latest history, subscribes to new rows and announces presence.
func Open(ctx context.Context, deps Deps, group domain.GroupID, me domain.User, history int) (*Room, error) {
	r := &Room{
		deps:     deps,
		group:    group,
		me:       me,
		topic:    domain.ChatTopic(group),
		Presence: presence.NewTable(),
		seen:     make(map[domain.MessageID]bool),
		logger:   log.With().Str("module", "app.chat").Str("group", string(group)).Logger(),
	}

	if err := r.loadHistory(ctx, history); err != nil {
		return nil, err
	}

	r.ch = deps.Channels.Channel(r.topic, string(me.ID))
	r.ch.OnChange(core.ChangeFilter{
		Event:  "INSERT",
		Schema: "public",
		Table:  table,
		Filter: "group_id=eq." + string(group),
	}, r.onInsert)
	r.ch.OnPresenceSync(r.Presence.Sync)
	r.Presence.OnRender(func(peers []domain.PeerState) {
		core.Emit(r.deps.Publisher, EventPresence, r.topic, peers)
	})

	if err := r.ch.Subscribe(ctx); err != nil {
		_ = r.ch.Close(ctx)
		return nil, deps.Alerts.Raise(alert.New(alert.Network, "chat.subscribe", err))
	}
	meta := domain.PresenceMeta{UserID: me.ID, Username: me.DisplayName(), OnlineAt: time.Now().UTC()}
	if err := r.ch.Track(ctx, meta); err != nil {
		r.logger.Warn().Err(err).Msg("presence track failed")
	}
	r.logger.Info().Int("history", len(r.messages)).Msg("room open")
	return r, nil
}

func (r *Room) Topic() string         { return r.topic }
func (r *Room) Group() domain.GroupID { return r.group }

func (r *Room) loadHistory(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = 50
	}
	var rows []domain.Message
	q := core.NewQuery().Eq("group_id", string(r.group)).OrderBy("created_at", false).WithLimit(limit)
	if err := r.deps.Tables.Select(ctx, table, q, &rows); err != nil {
		return r.deps.Alerts.Raise(alert.New(alert.Network, "chat.history", err))
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	r.mu.Lock()
	for _, m := range rows {
		r.appendLocked(m)
	}
	r.mu.Unlock()
	return nil
}

func (r *Room) onInsert(c core.Change) {
	var m domain.Message
	if err := json.Unmarshal(c.Record, &m); err != nil {
		r.logger.Error().Err(err).Msg("bad message record")
		return
	}
	if m.GroupID != r.group {
		return
	}
	r.mu.Lock()
	added := r.appendLocked(m)
	r.mu.Unlock()
	if added {
		core.Emit(r.deps.Publisher, EventMessage, r.topic, m)
	}
}

// appendLocked keeps messages unique by id; the sender sees its own row twice.
func (r *Room) appendLocked(m domain.Message) bool {
	if r.closed {
		return false
	}
	if m.ID != "" {
		if r.seen[m.ID] {
			return false
		}
		r.seen[m.ID] = true
	}
	r.messages = append(r.messages, m)
	return true
}

func (r *Room) SendText(ctx context.Context, text string) (*domain.Message, error) {
	if r.isClosed() {
		return nil, core.ErrChannelClosed
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, r.deps.Alerts.Raise(alert.Newf(alert.Internal, "chat.send", "message is empty"))
	}
	if len(text) > MaxTextLength {
		return nil, r.deps.Alerts.Raise(alert.Newf(alert.Internal, "chat.send", "message longer than %d characters", MaxTextLength))
	}
	m := domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		SenderID:  r.me.ID,
		GroupID:   r.group,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.deps.Tables.Insert(ctx, table, m, nil); err != nil {
		return nil, r.deps.Alerts.Raise(alert.New(alert.Network, "chat.send", err))
	}
	r.record(m)
	return &m, nil
}

func (r *Room) SendMedia(ctx context.Context, name string, body io.ReadSeeker, size int64, caption string) (*domain.Message, error) {
	if r.isClosed() {
		return nil, core.ErrChannelClosed
	}
	if r.deps.Pipeline == nil {
		return nil, fmt.Errorf("chat: media pipeline not configured")
	}
	m, err := r.deps.Pipeline.SendToGroup(ctx, r.group, r.me.ID, name, body, size, caption)
	if err != nil {
		return nil, err
	}
	r.record(*m)
	return m, nil
}

func (r *Room) record(m domain.Message) {
	r.mu.Lock()
	added := r.appendLocked(m)
	r.mu.Unlock()
	if added {
		core.Emit(r.deps.Publisher, EventMessage, r.topic, m)
	}
}

func (r *Room) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Messages returns the conversation oldest first.
func (r *Room) Messages() []domain.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Message(nil), r.messages...)
}

func (r *Room) Participants() []domain.PeerState { return r.Presence.Snapshot() }

// Close untracks, leaves the channel and drops cached state. Idempotent.
func (r *Room) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.messages = nil
	r.seen = make(map[domain.MessageID]bool)
	r.mu.Unlock()

	if err := r.ch.Untrack(ctx); err != nil {
		r.logger.Debug().Err(err).Msg("untrack")
	}
	err := r.ch.Close(ctx)
	r.Presence.Clear()
	r.logger.Info().Msg("room closed")
	return err
}
