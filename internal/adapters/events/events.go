// Package events streams UI events over a local websocket and accepts a
// small set of interactive commands back.
package events

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const (
	writeWait        = 5 * time.Second
	defaultPing      = 30 * time.Second
	defaultReadLimit = 64 << 10
	defaultQueue     = 64
)

// WSConn is the part of *websocket.Conn the pumps use.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	Close() error
}

// Conn is one UI subscriber. It implements core.SignalConnection.
type Conn struct {
	id   app.SubscriberID
	conn WSConn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*Conn)(nil)

func NewConn(id app.SubscriberID, ws WSConn, queue int) *Conn {
	if queue <= 0 {
		queue = defaultQueue
	}
	return &Conn{id: id, conn: ws, send: make(chan core.Frame, queue)}
}

func (c *Conn) ID() app.SubscriberID { return c.id }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

type Controller struct {
	Orch       *orch.Orchestrator
	PingPeriod time.Duration
	ReadLimit  int64
	Queue      int
}

var upgrader = websocket.Upgrader{
	// the API listens on loopback only
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the request and registers the connection with the hub.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	id := app.SubscriberID(c.GetString("client_token") + "/" + uuid.NewString()[:8])
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "events").Msg("ws upgrade")
		return
	}
	ctl.Serve(ctx, NewConn(id, ws, ctl.Queue))
}

// Serve runs the pumps for an accepted connection until either side ends.
func (ctl *Controller) Serve(ctx context.Context, conn *Conn) {
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Hub.AddSubscriber(conn.id, conn)
	log.Info().Str("module", "events").Str("sub", string(conn.id)).Msg("subscriber connected")

	ctl.sendJSON(conn, hello{Type: "hello", Active: ctl.Orch.Active()})

	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		defer ctl.Orch.Hub.RemoveSubscriber(conn.id)
		ctl.readPump(ctx, conn)
	}()
}

type hello struct {
	Type   string        `json:"type"`
	Active []app.Binding `json:"active"`
}
