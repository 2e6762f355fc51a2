package call

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Beacon/internal/adapters/realtime/memory"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

type fakeConn struct {
	remote string

	mu         sync.Mutex
	onICE      func(webrtc.ICECandidateInit)
	onState    func(webrtc.PeerConnectionState)
	onClosed   func()
	closed     bool
	candidates []webrtc.ICECandidateInit
	answered   bool
}

func (c *fakeConn) Start(context.Context) error { return nil }

func (c *fakeConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClosed
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeConn) CreateOffer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer for " + c.remote}, nil
}

func (c *fakeConn) ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer for " + c.remote}, nil
}

func (c *fakeConn) ApplyAnswer(webrtc.SessionDescription) error {
	c.mu.Lock()
	c.answered = true
	c.mu.Unlock()
	return nil
}

// connect simulates ICE completing.
func (c *fakeConn) connect() {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	fn(webrtc.PeerConnectionStateConnected)
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	c.candidates = append(c.candidates, ci)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (c *fakeConn) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) emitICE(candidate string) {
	c.mu.Lock()
	fn := c.onICE
	c.mu.Unlock()
	fn(webrtc.ICECandidateInit{Candidate: candidate})
}

func (c *fakeConn) gotCandidates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidates)
}

type factory struct {
	mu    sync.Mutex
	conns map[string][]*fakeConn
}

func newFactory() *factory { return &factory{conns: make(map[string][]*fakeConn)} }

func (f *factory) build(remote string) (core.MediaConnection, error) {
	c := &fakeConn{remote: remote}
	f.mu.Lock()
	f.conns[remote] = append(f.conns[remote], c)
	f.mu.Unlock()
	return c, nil
}

func (f *factory) last(remote string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.conns[remote]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

func state(r *Relay, id domain.UserID) PeerState {
	for _, p := range r.Peers() {
		if p.ID == id {
			return p.State
		}
	}
	return -1
}

func TestJoinOfferAnswerHangup(t *testing.T) {
	bus := memory.NewBus()
	ctx := context.Background()
	fa, fb := newFactory(), newFactory()

	a, err := Join(ctx, Deps{Channels: bus, Media: fa.build}, "g1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Hangup(ctx)
	b, err := Join(ctx, Deps{Channels: bus, Media: fb.build}, "g1", "bob")
	if err != nil {
		t.Fatal(err)
	}

	// alice sees bob's join and offers; bob answers; alice applies the answer.
	waitFor(t, "alice has bob's answer", func() bool { return state(a, "bob") == PeerAnswered })
	if got := state(b, "alice"); got != PeerAnswered {
		t.Fatalf("bob's state for alice = %v", got)
	}
	fa.last("bob").connect()
	if got := state(a, "bob"); got != PeerConnected {
		t.Fatalf("alice's state for bob = %v", got)
	}

	// bob trickles a candidate to alice
	fb.last("alice").emitICE("candidate:1 1 udp 1 10.0.0.1 5000 typ host")
	waitFor(t, "candidate applied", func() bool { return fa.last("bob").gotCandidates() == 1 })

	aliceConn := fa.last("bob")
	if err := b.Hangup(ctx); err != nil {
		t.Fatal(err)
	}
	// the peer leaves the map before its connection is closed
	waitFor(t, "alice drops and closes bob", func() bool {
		return len(a.Peers()) == 0 && aliceConn.isClosed() && !a.Streams.Has("bob")
	})
	if !fb.last("alice").isClosed() {
		t.Fatalf("bob did not close his own connection")
	}
	if err := b.Hangup(ctx); err != nil {
		t.Fatalf("second hangup: %v", err)
	}
}

func TestSignalsSurviveBroadcastLimit(t *testing.T) {
	bus := memory.NewBus()
	bus.LimitBroadcasts(10, 200*time.Millisecond)
	ctx := context.Background()
	fa, fb := newFactory(), newFactory()

	a, err := Join(ctx, Deps{Channels: bus, Media: fa.build}, "g1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Hangup(ctx)
	b, err := Join(ctx, Deps{Channels: bus, Media: fb.build}, "g1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Hangup(ctx)
	waitFor(t, "negotiated", func() bool { return state(a, "bob") == PeerAnswered })

	const n = 25
	bobConn := fb.last("alice")
	for i := 0; i < n; i++ {
		bobConn.emitICE("candidate:" + strconv.Itoa(i))
	}
	aliceConn := fa.last("bob")
	waitFor(t, "all candidates applied", func() bool { return aliceConn.gotCandidates() == n })

	aliceConn.mu.Lock()
	defer aliceConn.mu.Unlock()
	for i, c := range aliceConn.candidates {
		if c.Candidate != "candidate:"+strconv.Itoa(i) {
			t.Fatalf("candidate %d out of order: %q", i, c.Candidate)
		}
	}
}

func TestCandidateForUnknownPeerDropped(t *testing.T) {
	bus := memory.NewBus()
	ctx := context.Background()
	f := newFactory()
	a, err := Join(ctx, Deps{Channels: bus, Media: f.build}, "g1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Hangup(ctx)

	a.onCandidate(Signal{From: "ghost", To: "alice", Candidate: &webrtc.ICECandidateInit{Candidate: "x"}})
	if len(a.Peers()) != 0 || f.last("ghost") != nil {
		t.Fatalf("candidate created a connection")
	}
}

func TestPresenceLeaveCountsAsHangup(t *testing.T) {
	bus := memory.NewBus()
	ctx := context.Background()
	fa := newFactory()
	a, err := Join(ctx, Deps{Channels: bus, Media: fa.build}, "g1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Hangup(ctx)

	// bob joins with a bare channel and vanishes without a hangup
	ch := bus.Channel(domain.CallTopic("g1"), "bob")
	if err := ch.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	if err := ch.Track(ctx, domain.PresenceMeta{UserID: "bob"}); err != nil {
		t.Fatal(err)
	}
	if err := ch.Broadcast(ctx, EventJoin, Signal{From: "bob"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "alice offers bob", func() bool { return state(a, "bob") == PeerOffered })

	if err := ch.Close(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "alice drops and closes bob", func() bool {
		return len(a.Peers()) == 0 && fa.last("bob").isClosed()
	})
}

func TestSecondTabLeavingKeepsPeer(t *testing.T) {
	bus := memory.NewBus()
	ctx := context.Background()
	fa := newFactory()
	a, err := Join(ctx, Deps{Channels: bus, Media: fa.build}, "g1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Hangup(ctx)

	var tabs []core.Channel
	for i := 0; i < 2; i++ {
		ch := bus.Channel(domain.CallTopic("g1"), "bob")
		if err := ch.Subscribe(ctx); err != nil {
			t.Fatal(err)
		}
		if err := ch.Track(ctx, domain.PresenceMeta{UserID: "bob"}); err != nil {
			t.Fatal(err)
		}
		tabs = append(tabs, ch)
	}
	if err := tabs[0].Broadcast(ctx, EventJoin, Signal{From: "bob"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "alice offers bob", func() bool { return state(a, "bob") == PeerOffered })

	if err := tabs[1].Close(ctx); err != nil {
		t.Fatal(err)
	}
	// a later broadcast from the remaining tab proves the close was processed
	if err := tabs[0].Broadcast(ctx, EventCandidate, Signal{From: "bob", To: "alice", Candidate: &webrtc.ICECandidateInit{Candidate: "c"}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "candidate applied", func() bool { return fa.last("bob").gotCandidates() == 1 })
	if state(a, "bob") != PeerOffered || fa.last("bob").isClosed() {
		t.Fatalf("bob dropped while a tab is still in the call")
	}

	if err := tabs[0].Close(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "alice drops bob", func() bool { return len(a.Peers()) == 0 && fa.last("bob").isClosed() })
}

func TestSignalsForOthersIgnored(t *testing.T) {
	bus := memory.NewBus()
	ctx := context.Background()
	f := newFactory()
	a, err := Join(ctx, Deps{Channels: bus, Media: f.build}, "g1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Hangup(ctx)

	h := a.handle(a.onOffer)
	h(core.Broadcast{Event: EventOffer, Payload: []byte(`{"senderId":"bob","targetId":"carol","sdp":{"type":"offer","sdp":"v=0"}}`)})
	h(core.Broadcast{Event: EventOffer, Payload: []byte(`{"senderId":"alice","sdp":{"type":"offer","sdp":"v=0"}}`)})
	if len(a.Peers()) != 0 {
		t.Fatalf("peers = %v", a.Peers())
	}
}

func TestPeerStateOnlyAdvances(t *testing.T) {
	cases := []struct {
		from, to PeerState
		ok       bool
	}{
		{PeerIdle, PeerOffered, true},
		{PeerOffered, PeerAnswered, true},
		{PeerAnswered, PeerConnected, true},
		{PeerIdle, PeerConnected, false},
		{PeerConnected, PeerOffered, false},
		{PeerAnswered, PeerClosed, true},
		{PeerClosed, PeerIdle, false},
	}
	for _, c := range cases {
		if got := c.from.next(c.to); got != c.ok {
			t.Errorf("%v -> %v = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

type packets struct {
	mu   sync.Mutex
	left int
}

func (p *packets) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.left == 0 {
		return nil, nil, io.EOF
	}
	p.left--
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(p.left)}, Payload: []byte{1, 2, 3, 4}}, nil, nil
}

type collector struct {
	mu   sync.Mutex
	n    int
	fail bool
}

func (c *collector) WriteRTP(*rtp.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("closed")
	}
	c.n++
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// blocking never returns a packet until released.
type blocking struct{ release chan struct{} }

func (b *blocking) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	<-b.release
	return nil, nil, io.EOF
}

func TestStreamsStartStop(t *testing.T) {
	m := NewStreams()
	src := &blocking{release: make(chan struct{})}
	defer close(src.release)
	m.Start(context.Background(), "bob", "audio", src)

	if !m.AddSink("bob", "audio", NewSink("speaker", &collector{})) {
		t.Fatalf("AddSink on live stream failed")
	}
	if m.AddSink("bob", "video", NewSink("screen", &collector{})) {
		t.Fatalf("AddSink on missing stream succeeded")
	}
	st := m.Stats()
	if len(st) != 1 || st[0].Sinks != 1 || st[0].Kind != "audio" {
		t.Fatalf("stats = %+v", st)
	}
	if !m.Stop("bob") || m.Has("bob") {
		t.Fatalf("stop did not remove the stream")
	}
	if m.Stop("bob") {
		t.Fatalf("second stop reported a stream")
	}
}

func TestStreamCountsAndForwards(t *testing.T) {
	s := newStream("bob", "audio", &packets{left: 10}, func() {})
	sink := &collector{}
	s.addSink(NewSink("speaker", sink))

	logger := zerolog.Nop()
	s.loop(context.Background(), &logger)

	if got := sink.count(); got != 10 {
		t.Fatalf("sink got %d packets", got)
	}
	if st := s.stats(); st.Packets != 10 || st.Bytes != 40 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestFailingSinkRemoved(t *testing.T) {
	s := newStream("bob", "video", &packets{left: 3}, func() {})
	bad := &collector{fail: true}
	s.addSink(NewSink("bad", bad))
	muted := &collector{}
	ms := NewSink("muted", muted)
	ms.MarkMuted()
	s.addSink(ms)

	logger := zerolog.Nop()
	s.loop(context.Background(), &logger)

	if _, ok := s.sink("bad"); ok {
		t.Fatalf("failing sink kept")
	}
	if muted.count() != 0 {
		t.Fatalf("muted sink received packets")
	}
	if ms.State() != SinkDelete {
		t.Fatalf("sinks must be marked for delete when the stream ends, got %v", ms.State())
	}
}

func TestActivityThrottled(t *testing.T) {
	var mu sync.Mutex
	var got []core.Event
	base := time.Unix(1700000000, 0)
	step := 0
	a := &activity{
		publisher: core.PublisherFunc(func(e core.Event) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		}),
		topic: "webrtc-group-g1",
		peer:  "bob",
		kind:  "audio",
		now: func() time.Time {
			at := base.Add(time.Duration(step) * 100 * time.Millisecond)
			step++
			return at
		},
	}
	s := newStream("bob", "audio", &packets{left: 25}, func() {})
	s.addSink(NewSink(activitySinkID, a))
	logger := zerolog.Nop()
	s.loop(context.Background(), &logger)

	if len(got) != 3 {
		t.Fatalf("want 3 activity events over 2.5s, got %d", len(got))
	}
	if got[0].Type != EventActivity || got[0].Topic != "webrtc-group-g1" {
		t.Fatalf("unexpected event %+v", got[0])
	}
}

func TestMuteFollowsPeer(t *testing.T) {
	var mu sync.Mutex
	events := 0
	r := &Relay{
		deps: Deps{Publisher: core.PublisherFunc(func(core.Event) {
			mu.Lock()
			events++
			mu.Unlock()
		})},
		topic:   "webrtc-group-g1",
		Streams: NewStreams(),
		muted:   make(map[domain.UserID]bool),
		logger:  zerolog.Nop(),
	}

	r.Mute("bob", true)
	s := newStream("bob", "audio", &packets{left: 5}, func() {})
	r.attachActivity(s)
	logger := zerolog.Nop()
	s.loop(context.Background(), &logger)
	if events != 0 {
		t.Fatalf("muted peer produced %d events", events)
	}

	src := &blocking{release: make(chan struct{})}
	defer close(src.release)
	live := r.Streams.Start(context.Background(), "bob", "video", src)
	r.attachActivity(live)
	sink, ok := live.sink(activitySinkID)
	if !ok || sink.State() != SinkMuted {
		t.Fatalf("new stream of a muted peer must start muted")
	}
	r.Mute("bob", false)
	if sink.State() != SinkOk || r.Muted("bob") {
		t.Fatalf("unmute did not reach the sink")
	}
}
