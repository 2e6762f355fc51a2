package call

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("call: relay closed")

const (
	outboxSize = 256
	// paceDelay is how long a rate-limited signal waits before the next try.
	paceDelay = 50 * time.Millisecond
)

type outbound struct {
	event  string
	signal Signal
}

type Deps struct {
	Channels  core.ChannelFactory
	Media     core.MediaFactory
	Prompter  core.PermissionPrompter
	Publisher core.Publisher
	Alerts    *alert.Sink
}

type peer struct {
	id     domain.UserID
	conn   core.MediaConnection
	state  PeerState
	cancel context.CancelFunc
}

// Relay is the local side of a group call.
type Relay struct {
	deps    Deps
	me      domain.UserID
	topic   string
	ch      core.Channel
	Streams *Streams
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	outbox chan outbound

	mu     sync.Mutex
	peers  map[domain.UserID]*peer
	muted  map[domain.UserID]bool
	closed bool
}

// Join asks for camera and microphone, subscribes to the call topic and
// announces the local peer. Members already in the call answer with offers.
func Join(ctx context.Context, deps Deps, group domain.GroupID, me domain.UserID) (*Relay, error) {
	if deps.Prompter != nil {
		for _, p := range []core.Permission{core.PermissionCamera, core.PermissionMicrophone} {
			ok, err := deps.Prompter.Request(ctx, p)
			if err != nil {
				return nil, deps.Alerts.Raise(alert.New(alert.Internal, "call.permission", err))
			}
			if !ok {
				return nil, deps.Alerts.Raise(alert.Newf(alert.PermissionDenied, "call.permission", "%s permission denied", p))
			}
		}
	}

	rctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		deps:    deps,
		me:      me,
		topic:   domain.CallTopic(group),
		Streams: NewStreams(),
		ctx:     rctx,
		cancel:  cancel,
		peers:   make(map[domain.UserID]*peer),
		muted:   make(map[domain.UserID]bool),
		outbox:  make(chan outbound, outboxSize),
		logger:  log.With().Str("module", "app.call").Str("group", string(group)).Logger(),
	}

	r.ch = deps.Channels.Channel(r.topic, string(me))
	r.ch.OnBroadcast(EventJoin, r.handle(r.onJoin))
	r.ch.OnBroadcast(EventOffer, r.handle(r.onOffer))
	r.ch.OnBroadcast(EventAnswer, r.handle(r.onAnswer))
	r.ch.OnBroadcast(EventCandidate, r.handle(r.onCandidate))
	r.ch.OnBroadcast(EventHangup, r.handle(func(s Signal) { r.drop(s.From, "hangup") }))
	r.ch.OnPresenceLeave(func(key string, _ []json.RawMessage) {
		r.drop(domain.UserID(key), "left")
	})

	if err := r.ch.Subscribe(ctx); err != nil {
		cancel()
		_ = r.ch.Close(ctx)
		return nil, deps.Alerts.Raise(alert.New(alert.Network, "call.subscribe", err))
	}
	go r.pump()
	if err := r.ch.Track(ctx, domain.PresenceMeta{UserID: me, OnlineAt: time.Now().UTC()}); err != nil {
		r.logger.Warn().Err(err).Msg("presence track failed")
	}
	if err := r.broadcast(ctx, EventJoin, Signal{From: me}); err != nil {
		r.logger.Warn().Err(err).Msg("join announce failed")
	}
	r.logger.Info().Msg("joined call")
	return r, nil
}

// handle decodes a signal and filters out our own and foreign-targeted ones.
func (r *Relay) handle(fn func(Signal)) func(core.Broadcast) {
	return func(b core.Broadcast) {
		var s Signal
		if err := json.Unmarshal(b.Payload, &s); err != nil || s.From == "" {
			r.logger.Debug().Err(err).Str("event", b.Event).Msg("bad signal")
			return
		}
		if s.From == r.me || (s.To != "" && s.To != r.me) {
			return
		}
		fn(s)
	}
}

func (r *Relay) onJoin(s Signal) {
	p, err := r.open(s.From)
	if err != nil {
		r.logger.Error().Err(err).Str("peer", string(s.From)).Msg("open peer failed")
		return
	}
	offer, err := p.conn.CreateOffer()
	if err != nil {
		r.logger.Error().Err(err).Str("peer", string(s.From)).Msg("create offer failed")
		r.drop(s.From, "offer failed")
		return
	}
	r.setState(p, PeerOffered)
	r.send(EventOffer, Signal{From: r.me, To: s.From, SDP: offer})
}

func (r *Relay) onOffer(s Signal) {
	if s.SDP == nil {
		return
	}
	r.mu.Lock()
	cur, exists := r.peers[s.From]
	glare := exists && cur.state == PeerOffered
	r.mu.Unlock()
	// Both sides offered: the lower id keeps its offer.
	if glare && r.me < s.From {
		r.logger.Debug().Str("peer", string(s.From)).Msg("offer glare, keeping ours")
		return
	}

	p, err := r.open(s.From)
	if err != nil {
		r.logger.Error().Err(err).Str("peer", string(s.From)).Msg("open peer failed")
		return
	}
	r.setState(p, PeerOffered)
	answer, err := p.conn.ApplyOfferAndCreateAnswer(*s.SDP)
	if err != nil {
		r.logger.Error().Err(err).Str("peer", string(s.From)).Msg("answer failed")
		r.drop(s.From, "answer failed")
		return
	}
	r.setState(p, PeerAnswered)
	r.send(EventAnswer, Signal{From: r.me, To: s.From, SDP: answer})
}

func (r *Relay) onAnswer(s Signal) {
	if s.SDP == nil {
		return
	}
	p, ok := r.peer(s.From)
	if !ok || r.stateOf(p) != PeerOffered {
		r.logger.Debug().Str("peer", string(s.From)).Msg("unexpected answer ignored")
		return
	}
	if err := p.conn.ApplyAnswer(*s.SDP); err != nil {
		r.logger.Error().Err(err).Str("peer", string(s.From)).Msg("apply answer failed")
		return
	}
	r.setState(p, PeerAnswered)
}

// onCandidate applies remote ICE. Candidates for a peer we have no
// connection with yet are dropped.
func (r *Relay) onCandidate(s Signal) {
	if s.Candidate == nil {
		return
	}
	p, ok := r.peer(s.From)
	if !ok {
		r.logger.Warn().Str("peer", string(s.From)).Msg("ice candidate for unknown peer dropped")
		return
	}
	if err := p.conn.AddICECandidate(*s.Candidate); err != nil {
		r.logger.Warn().Err(err).Str("peer", string(s.From)).Msg("add ice candidate failed")
	}
}

// open returns an idle connection towards id. A peer that already
// negotiated is torn down first; a fresh offer or join restarts the exchange.
func (r *Relay) open(id domain.UserID) (*peer, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	p, ok := r.peers[id]
	r.mu.Unlock()
	if ok {
		if r.stateOf(p) == PeerIdle {
			return p, nil
		}
		r.drop(id, "renegotiate")
	}

	conn, err := r.deps.Media(string(id))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(r.ctx)
	p = &peer{id: id, conn: conn, state: PeerIdle, cancel: cancel}

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		r.send(EventCandidate, Signal{From: r.me, To: id, Candidate: &c})
	})
	conn.OnTrack(func(tctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := track.Kind().String()
		r.attachActivity(r.Streams.Start(tctx, id, kind, track))
		core.Emit(r.deps.Publisher, EventStreamAdded, r.topic, map[string]string{"peer": string(id), "kind": kind})
	})
	conn.OnStateChange(func(st webrtc.PeerConnectionState) {
		if st == webrtc.PeerConnectionStateConnected {
			r.setState(p, PeerConnected)
		}
	})
	conn.OnClosed(func() { r.forget(p) })

	if err := conn.Start(ctx); err != nil {
		cancel()
		conn.Close()
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		conn.Close()
		return nil, ErrClosed
	}
	if old, ok := r.peers[id]; ok {
		// lost a race with another open for the same peer
		r.mu.Unlock()
		cancel()
		conn.Close()
		return old, nil
	}
	r.peers[id] = p
	r.mu.Unlock()
	r.publishState(p.id, PeerIdle)
	return p, nil
}

func (r *Relay) peer(id domain.UserID) (*peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	return p, ok
}

func (r *Relay) stateOf(p *peer) PeerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return p.state
}

func (r *Relay) setState(p *peer, to PeerState) {
	r.mu.Lock()
	if !p.state.next(to) {
		from := p.state
		r.mu.Unlock()
		if from != to {
			r.logger.Debug().Str("peer", string(p.id)).Stringer("from", from).Stringer("to", to).Msg("state change ignored")
		}
		return
	}
	p.state = to
	r.mu.Unlock()
	r.publishState(p.id, to)
}

func (r *Relay) publishState(id domain.UserID, st PeerState) {
	core.Emit(r.deps.Publisher, EventPeerState, r.topic, PeerInfo{ID: id, State: st})
}

// drop closes the connection towards id and discards its remote streams.
func (r *Relay) drop(id domain.UserID, reason string) {
	r.mu.Lock()
	p, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
		p.state = PeerClosed
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.logger.Info().Str("peer", string(id)).Str("reason", reason).Msg("peer closed")
	p.cancel()
	p.conn.Close()
	r.release(id)
}

// forget handles a connection that closed on its own.
func (r *Relay) forget(p *peer) {
	r.mu.Lock()
	cur, ok := r.peers[p.id]
	if !ok || cur != p {
		r.mu.Unlock()
		return
	}
	delete(r.peers, p.id)
	p.state = PeerClosed
	r.mu.Unlock()
	r.logger.Info().Str("peer", string(p.id)).Msg("connection closed")
	p.cancel()
	r.release(p.id)
}

func (r *Relay) release(id domain.UserID) {
	if r.Streams.Stop(id) {
		core.Emit(r.deps.Publisher, EventStreamRemove, r.topic, map[string]string{"peer": string(id)})
	}
	r.publishState(id, PeerClosed)
}

// send queues a signal; signals leave in order from pump.
func (r *Relay) send(event string, s Signal) {
	select {
	case r.outbox <- outbound{event: event, signal: s}:
	default:
		r.logger.Warn().Str("event", event).Str("to", string(s.To)).Msg("signal outbox full, dropped")
	}
}

func (r *Relay) pump() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case m := <-r.outbox:
			if err := r.broadcast(r.ctx, m.event, m.signal); err != nil && r.ctx.Err() == nil {
				r.logger.Warn().Err(err).Str("event", m.event).Str("to", string(m.signal.To)).Msg("signal send failed")
			}
		}
	}
}

// broadcast waits out the channel's rate limit instead of losing the signal.
func (r *Relay) broadcast(ctx context.Context, event string, s Signal) error {
	for {
		err := r.ch.Broadcast(ctx, event, s)
		if !errors.Is(err, core.ErrRateLimited) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(paceDelay):
		}
	}
}

// Peers lists remote participants ordered by id.
func (r *Relay) Peers() []PeerInfo {
	r.mu.Lock()
	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, PeerInfo{ID: p.id, State: p.state})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Relay) Topic() string { return r.topic }

// Hangup tells the group we are leaving, then closes every connection.
// Safe to call more than once.
func (r *Relay) Hangup(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ids := make([]domain.UserID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if err := r.broadcast(ctx, EventHangup, Signal{From: r.me}); err != nil {
		r.logger.Warn().Err(err).Msg("hangup broadcast failed")
	}
	for _, id := range ids {
		r.drop(id, "local hangup")
	}
	r.Streams.StopAll()
	r.cancel()
	if err := r.ch.Untrack(ctx); err != nil {
		r.logger.Debug().Err(err).Msg("untrack")
	}
	r.logger.Info().Msg("left call")
	return r.ch.Close(ctx)
}

// Close satisfies app.Closer.
func (r *Relay) Close(ctx context.Context) error { return r.Hangup(ctx) }
