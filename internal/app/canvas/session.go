// Package canvas shares freehand paths and live cursors over a realtime topic.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/app/presence"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EventCursor = "cursor-pos"
	EventPath   = "path-complete"

	// UI event types.
	EventDrawing = "canvas.path"
	EventPeers   = "canvas.peers"

	DefaultColor       = "#000000"
	DefaultStrokeWidth = 3
)

var (
	ErrNoPath     = errors.New("canvas: no path in progress")
	ErrCursorOnly = errors.New("canvas: session carries cursors only")
)

type Deps struct {
	Channels  core.ChannelFactory
	Publisher core.Publisher
	Alerts    *alert.Sink
}

type Options struct {
	Topic      string
	CursorOnly bool
	Throttle   time.Duration
}

// Session is one participant's view of a shared canvas.
type Session struct {
	deps   Deps
	opts   Options
	me     domain.User
	ch     core.Channel
	Peers  *presence.Table
	logger zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	paths      []domain.Path
	current    *domain.Path
	lastCursor time.Time
	closed     bool
}

// Open joins the canvas topic. Options.Topic defaults to the shared canvas,
// or the cursor demo channel when CursorOnly is set.
func Open(ctx context.Context, deps Deps, me domain.User, opts Options) (*Session, error) {
	if opts.Topic == "" {
		opts.Topic = domain.CanvasTopic
		if opts.CursorOnly {
			opts.Topic = domain.CursorTopic
		}
	}
	s := &Session{
		deps:   deps,
		opts:   opts,
		me:     me,
		Peers:  presence.NewTable(),
		now:    time.Now,
		logger: log.With().Str("module", "app.canvas").Str("topic", opts.Topic).Logger(),
	}
	s.Peers.OnRender(func(peers []domain.PeerState) {
		core.Emit(deps.Publisher, EventPeers, opts.Topic, peers)
	})

	s.ch = deps.Channels.Channel(opts.Topic, string(me.ID))
	s.ch.OnBroadcast(EventCursor, s.onCursor)
	if !opts.CursorOnly {
		s.ch.OnBroadcast(EventPath, s.onPath)
	}
	s.ch.OnPresenceLeave(func(key string, _ []json.RawMessage) {
		s.Peers.Remove(domain.UserID(key))
	})

	if err := s.ch.Subscribe(ctx); err != nil {
		_ = s.ch.Close(ctx)
		return nil, deps.Alerts.Raise(alert.New(alert.Network, "canvas.subscribe", err))
	}
	meta := domain.PresenceMeta{UserID: me.ID, Username: me.DisplayName(), OnlineAt: time.Now().UTC()}
	if err := s.ch.Track(ctx, meta); err != nil {
		s.logger.Warn().Err(err).Msg("presence track failed")
	}
	return s, nil
}

func (s *Session) Topic() string { return s.opts.Topic }

func (s *Session) onCursor(b core.Broadcast) {
	var pos domain.CursorPos
	if err := json.Unmarshal(b.Payload, &pos); err != nil || pos.UserID == "" {
		s.logger.Debug().Err(err).Msg("bad cursor payload")
		return
	}
	if pos.UserID == s.me.ID {
		return
	}
	s.Peers.MoveCursor(pos.UserID, pos.Username, domain.Point{X: pos.X, Y: pos.Y})
	core.Emit(s.deps.Publisher, EventCursor, s.opts.Topic, pos)
}

func (s *Session) onPath(b core.Broadcast) {
	var p domain.Path
	if err := json.Unmarshal(b.Payload, &p); err != nil {
		s.logger.Debug().Err(err).Msg("bad path payload")
		return
	}
	if len(p.Points) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.paths = append(s.paths, p)
	s.mu.Unlock()
	core.Emit(s.deps.Publisher, EventDrawing, s.opts.Topic, p)
}

// MoveCursor broadcasts the local cursor, at most once per throttle window.
// Reports whether the position was sent.
func (s *Session) MoveCursor(ctx context.Context, at domain.Point) (bool, error) {
	now := s.now()
	s.mu.Lock()
	if s.opts.Throttle > 0 && !s.lastCursor.IsZero() && now.Sub(s.lastCursor) < s.opts.Throttle {
		s.mu.Unlock()
		return false, nil
	}
	s.lastCursor = now
	s.mu.Unlock()

	pos := domain.CursorPos{UserID: s.me.ID, Username: s.me.DisplayName(), X: at.X, Y: at.Y}
	if err := s.ch.Broadcast(ctx, EventCursor, pos); err != nil {
		return false, err
	}
	return true, nil
}

// BeginPath starts a local stroke. Empty colour and width fall back to defaults.
func (s *Session) BeginPath(color string, width float64, start domain.Point) (domain.PathID, error) {
	if s.opts.CursorOnly {
		return "", ErrCursorOnly
	}
	if color == "" {
		color = DefaultColor
	}
	if width <= 0 {
		width = DefaultStrokeWidth
	}
	p := &domain.Path{
		ID:          domain.PathID(uuid.NewString()),
		UserID:      s.me.ID,
		Color:       color,
		StrokeWidth: width,
		Points:      []domain.Point{start},
	}
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	return p.ID, nil
}

func (s *Session) AddPoint(pt domain.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoPath
	}
	s.current.Points = append(s.current.Points, pt)
	return nil
}

// CompletePath freezes the stroke and broadcasts it with its ordered points.
func (s *Session) CompletePath(ctx context.Context) (domain.Path, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return domain.Path{}, ErrNoPath
	}
	p := *s.current
	s.current = nil
	s.paths = append(s.paths, p)
	s.mu.Unlock()

	if err := s.ch.Broadcast(ctx, EventPath, p); err != nil {
		return p, s.deps.Alerts.Raise(alert.New(alert.Network, "canvas.path", err))
	}
	core.Emit(s.deps.Publisher, EventDrawing, s.opts.Topic, p)
	return p, nil
}

// Paths returns the shared drawing in arrival order.
func (s *Session) Paths() []domain.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Path(nil), s.paths...)
}

// Close untracks, leaves the channel and drops the cached drawing. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.paths = nil
	s.current = nil
	s.mu.Unlock()

	if err := s.ch.Untrack(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("untrack")
	}
	err := s.ch.Close(ctx)
	s.Peers.Clear()
	return err
}
