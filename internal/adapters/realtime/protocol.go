// Package realtime is a client for the BaaS realtime server.
// It speaks Phoenix channel JSON frames over a websocket.
package realtime

import (
	"encoding/json"
	"net/url"
	"strings"
)

const (
	topicPrefix  = "realtime:"
	phoenixTopic = "phoenix"
	protocolVsn  = "1.0.0"
)

// Phoenix and realtime events.
const (
	EventJoin        = "phx_join"
	EventLeave       = "phx_leave"
	EventReply       = "phx_reply"
	EventClose       = "phx_close"
	EventError       = "phx_error"
	EventHeartbeat   = "heartbeat"
	EventAccessToken = "access_token"

	EventBroadcast     = "broadcast"
	EventPresence      = "presence"
	EventPresenceState = "presence_state"
	EventPresenceDiff  = "presence_diff"
	EventChanges       = "postgres_changes"
	EventSystem        = "system"
)

// Message is one wire frame.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type joinConfig struct {
	Broadcast struct {
		Self bool `json:"self"`
		Ack  bool `json:"ack"`
	} `json:"broadcast"`
	Presence struct {
		Key string `json:"key"`
	} `json:"presence"`
	PostgresChanges []changeFilter `json:"postgres_changes"`
}

type changeFilter struct {
	ID     int64  `json:"id,omitempty"`
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinResponse struct {
	PostgresChanges []changeFilter `json:"postgres_changes"`
}

type broadcastPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type presencePush struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

type changesPayload struct {
	IDs  []int64         `json:"ids"`
	Data json.RawMessage `json:"data"`
}

type presenceEntry struct {
	Metas []json.RawMessage `json:"metas"`
}

type presenceDiff struct {
	Joins  map[string]presenceEntry `json:"joins"`
	Leaves map[string]presenceEntry `json:"leaves"`
}

// Endpoint turns the BaaS base URL into the realtime websocket URL.
func Endpoint(baseURL, apiKey string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", protocolVsn)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
