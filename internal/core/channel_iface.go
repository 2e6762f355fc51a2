package core

import (
	"context"
	"encoding/json"
	"time"
)

// Broadcast is an inbound broadcast event on a channel.
type Broadcast struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// PresenceSet maps a presence key to the metas tracked under it.
type PresenceSet map[string][]json.RawMessage

// Keys returns the presence keys in no particular order.
func (s PresenceSet) Keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

// ChangeFilter selects row changes to receive, e.g. INSERT on messages where group_id=eq.7.
type ChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// Change is an inbound row change.
type Change struct {
	Type            string          `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Channel is one realtime topic subscription.
// Handlers must be registered before Subscribe; they run on the transport's
// dispatch goroutine, one at a time.
type Channel interface {
	Topic() string

	OnBroadcast(event string, fn func(Broadcast))
	OnPresenceSync(fn func(PresenceSet))
	OnPresenceJoin(fn func(key string, metas []json.RawMessage))
	OnPresenceLeave(fn func(key string, metas []json.RawMessage))
	OnChange(filter ChangeFilter, fn func(Change))

	Subscribe(ctx context.Context) error
	Broadcast(ctx context.Context, event string, payload any) error
	Track(ctx context.Context, meta any) error
	Untrack(ctx context.Context) error
	// Close leaves the topic and drops all handlers. Idempotent.
	Close(ctx context.Context) error
}

// ChannelFactory opens channels; presenceKey identifies the local participant.
type ChannelFactory interface {
	Channel(topic, presenceKey string) Channel
}
