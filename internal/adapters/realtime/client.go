package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("realtime: send queue full")
	ErrRateLimited  = fmt.Errorf("realtime: %w", core.ErrRateLimited)
	ErrNotConnected = errors.New("realtime: not connected")
	ErrJoinTimeout  = errors.New("realtime: join timed out")
)

type Options struct {
	URL             string
	APIKey          string
	Heartbeat       time.Duration
	JoinTimeout     time.Duration
	EventsPerSecond int
	SendQueue       int
	Dialer          *websocket.Dialer
}

func (o *Options) withDefaults() {
	if o.Heartbeat <= 0 {
		o.Heartbeat = 25 * time.Second
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 10 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Client owns one websocket to the realtime server and multiplexes channels over it.
type Client struct {
	opts    Options
	limiter *RateLimiter

	mu       sync.RWMutex
	conn     *websocket.Conn
	send     chan core.Frame
	closed   bool
	token    string
	channels map[string]*Channel
	pending  map[string]chan Message

	ref    atomic.Uint64
	cancel context.CancelFunc
	done   chan struct{}
}

var _ core.ChannelFactory = (*Client)(nil)

func NewClient(opts Options) *Client {
	opts.withDefaults()
	return &Client{
		opts:     opts,
		limiter:  NewRateLimiter(opts.EventsPerSecond, time.Second),
		channels: make(map[string]*Channel),
		pending:  make(map[string]chan Message),
		closed:   true,
	}
}

// SetAuth replaces the access token used for joins and pushes it to joined channels.
func (c *Client) SetAuth(token string) {
	c.mu.Lock()
	c.token = token
	chans := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		chans = append(chans, ch)
	}
	c.mu.Unlock()

	for _, ch := range chans {
		if !ch.isJoined() {
			continue
		}
		payload, _ := json.Marshal(map[string]string{"access_token": token})
		if err := c.push(Message{Topic: ch.topic, Event: EventAccessToken, Payload: payload, Ref: c.nextRef()}); err != nil {
			log.Warn().Err(err).Str("module", "realtime").Str("topic", ch.topic).Msg("access token push failed")
		}
	}
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Connect dials the server. The socket lives until ctx is done or Close is called.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := Endpoint(c.opts.URL, c.opts.APIKey)
	if err != nil {
		return fmt.Errorf("realtime endpoint: %w", err)
	}
	ws, _, err := c.opts.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("realtime dial: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.conn = ws
	c.send = make(chan core.Frame, c.opts.SendQueue)
	c.closed = false
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	log.Info().Str("module", "realtime").Str("url", c.opts.URL).Msg("connected")

	go c.writePump(ctx, ws)
	go c.readPump(ctx, ws)
	return nil
}

// Channel returns a new unsubscribed channel for name.
func (c *Client) Channel(name, presenceKey string) core.Channel {
	return newChannel(c, name, presenceKey)
}

// TrySend queues a frame without blocking.
func (c *Client) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrNotConnected
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	if c.cancel != nil {
		c.cancel()
	}
	_ = c.conn.Close()
	for ref, ch := range c.pending {
		close(ch)
		delete(c.pending, ref)
	}
	c.mu.Unlock()
	log.Info().Str("module", "realtime").Msg("client closed")
}

// Done is closed when the read side of the socket has stopped.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

func (c *Client) push(m Message) error {
	if m.Payload == nil {
		m.Payload = json.RawMessage("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("realtime encode %s: %w", m.Event, err)
	}
	return c.TrySend(b)
}

// request pushes m and waits for its phx_reply.
func (c *Client) request(ctx context.Context, m Message) (*replyPayload, error) {
	wait := make(chan Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[m.Ref] = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, m.Ref)
		c.mu.Unlock()
	}()

	if err := c.push(m); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.opts.JoinTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrJoinTimeout
	case reply, ok := <-wait:
		if !ok {
			return nil, ErrNotConnected
		}
		var p replyPayload
		if err := json.Unmarshal(reply.Payload, &p); err != nil {
			return nil, fmt.Errorf("realtime reply: %w", err)
		}
		return &p, nil
	}
}

func (c *Client) register(ch *Channel) {
	c.mu.Lock()
	c.channels[ch.topic] = ch
	c.mu.Unlock()
}

func (c *Client) unregister(ch *Channel) {
	c.mu.Lock()
	if cur, ok := c.channels[ch.topic]; ok && cur == ch {
		delete(c.channels, ch.topic)
	}
	c.mu.Unlock()
	c.limiter.Forget(ch.topic)
}

func (c *Client) route(m Message) {
	if m.Event == EventReply && m.Ref != "" {
		c.mu.RLock()
		wait, ok := c.pending[m.Ref]
		c.mu.RUnlock()
		if ok {
			select {
			case wait <- m:
			default:
			}
			return
		}
	}
	if m.Topic == phoenixTopic {
		return
	}
	c.mu.RLock()
	ch, ok := c.channels[m.Topic]
	c.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "realtime").Str("topic", m.Topic).Str("event", m.Event).Msg("frame for unknown topic")
		return
	}
	ch.dispatch(m)
}
