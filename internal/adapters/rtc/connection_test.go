package rtc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

// trickle holds candidates until the receiving side has a remote description.
type trickle struct {
	mu      sync.Mutex
	ready   bool
	pending []webrtc.ICECandidateInit
	to      *WebRTCConnection
}

func (t *trickle) add(c webrtc.ICECandidateInit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		t.pending = append(t.pending, c)
		return
	}
	_ = t.to.AddICECandidate(c)
}

func (t *trickle) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = true
	for _, c := range t.pending {
		_ = t.to.AddICECandidate(c)
	}
	t.pending = nil
}

func TestOfferAnswerLoopback(t *testing.T) {
	api, err := NewAPI()
	if err != nil {
		t.Fatalf("api: %v", err)
	}
	cfg := webrtc.Configuration{}
	a, err := NewWebRTCConnection(api, cfg, "b")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewWebRTCConnection(api, cfg, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	_ = a.Start(ctx)
	_ = b.Start(ctx)

	connected := make(chan struct{})
	var once sync.Once
	a.OnStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected {
			once.Do(func() { close(connected) })
		}
	})

	toB := &trickle{to: b}
	toA := &trickle{to: a}
	a.OnICECandidate(toB.add)
	b.OnICECandidate(toA.add)

	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	answer, err := b.ApplyOfferAndCreateAnswer(*offer)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	toB.flush()
	if err := a.ApplyAnswer(*answer); err != nil {
		t.Fatalf("apply answer: %v", err)
	}
	toA.flush()

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Fatalf("peers did not connect")
	}
}

func TestCloseFiresOnClosedOnce(t *testing.T) {
	api, err := NewAPI()
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewWebRTCConnection(api, webrtc.Configuration{}, "x")
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Start(context.Background())
	var n atomic.Int32
	c.OnClosed(func() { n.Add(1) })
	c.Close()
	c.Close()
	time.Sleep(50 * time.Millisecond)
	if n.Load() != 1 {
		t.Fatalf("onClosed fired %d times", n.Load())
	}
}
