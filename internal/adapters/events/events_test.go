package events

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Beacon/internal/adapters/realtime/memory"
	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/core/coretest"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type identity struct{}

func (identity) User() (domain.User, error) { return domain.User{ID: "u1", Username: "ann"}, nil }

func setup(t *testing.T) (*orch.Orchestrator, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Hub:      app.NewHub(app.TolerantPolicy{MaxStrikes: 3}),
		Identity: identity{},
		Channels: memory.NewBus(),
		Tables:   coretest.NewTables(),
		Alerts:   alert.NewSink(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	ctl := &Controller{Orch: o, PingPeriod: time.Second}

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", "ct1")
		ctl.Handle(ctx, c)
	})
	srv := httptest.NewServer(r)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ws.Close()
		cancel()
		srv.Close()
		o.CloseAll(context.Background(), "u1")
	})
	return o, ws
}

func read(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestHelloPingAndUnknown(t *testing.T) {
	_, ws := setup(t)

	if m := read(t, ws); m["type"] != "hello" {
		t.Fatalf("first frame = %v", m)
	}
	if err := ws.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	if m := read(t, ws); m["type"] != "pong" {
		t.Fatalf("ping reply = %v", m)
	}
	if err := ws.WriteJSON(map[string]string{"type": "dance"}); err != nil {
		t.Fatal(err)
	}
	if m := read(t, ws); m["type"] != "error" || m["error"] != "unknown_command" {
		t.Fatalf("unknown reply = %v", m)
	}
	if err := ws.WriteJSON(map[string]string{"type": "whoami"}); err != nil {
		t.Fatal(err)
	}
	m := read(t, ws)
	user, _ := m["user"].(map[string]any)
	if m["type"] != "whoami" || user["id"] != "u1" {
		t.Fatalf("whoami reply = %v", m)
	}
}

func TestHubEventsReachSocket(t *testing.T) {
	o, ws := setup(t)
	read(t, ws) // hello

	deadline := time.Now().Add(2 * time.Second)
	for o.Hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	core.Emit(o.Hub, "chat.message", "group-g1", map[string]string{"content": "hi"})

	m := read(t, ws)
	if m["type"] != "chat.message" || m["topic"] != "group-g1" {
		t.Fatalf("event = %v", m)
	}
}

func TestCommandsNeedOpenSessions(t *testing.T) {
	o, ws := setup(t)
	read(t, ws)

	if err := ws.WriteJSON(map[string]any{"type": "chat", "group": "g1", "text": "hi"}); err != nil {
		t.Fatal(err)
	}
	if m := read(t, ws); m["error"] != "chat_not_open" {
		t.Fatalf("reply = %v", m)
	}

	if _, err := o.OpenCanvas(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	for _, cmd := range []map[string]any{
		{"type": "path.begin", "x": 1, "y": 1, "color": "#00ff00"},
		{"type": "path.point", "x": 2, "y": 2},
		{"type": "path.end"},
	} {
		if err := ws.WriteJSON(cmd); err != nil {
			t.Fatal(err)
		}
	}
	s, _ := o.Canvas(false)
	deadline := time.Now().Add(2 * time.Second)
	for len(s.Paths()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	paths := s.Paths()
	if len(paths) != 1 || len(paths[0].Points) != 2 || paths[0].Color != "#00ff00" {
		t.Fatalf("paths = %+v", paths)
	}
}

func TestConnBackpressure(t *testing.T) {
	c := &Conn{id: "x", send: make(chan core.Frame, 1)}
	if err := c.TrySend(core.Frame("a")); err != nil {
		t.Fatal(err)
	}
	if err := c.TrySend(core.Frame("b")); err != ErrBackpressure {
		t.Fatalf("err = %v", err)
	}
}
