package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dkeye/Beacon/internal/core"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("full")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

type fakeSession struct{ closed int }

func (s *fakeSession) Close(context.Context) error { s.closed++; return nil }

func TestRegistryRebindClosesPrevious(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	first, second := &fakeSession{}, &fakeSession{}
	cancelled := false

	r.Bind(ctx, "u1", FeatureChat, "group-1", first, func() { cancelled = true })
	r.Bind(ctx, "u1", FeatureChat, "group-2", second, nil)
	if first.closed != 1 || !cancelled {
		t.Fatalf("previous chat session must be closed and cancelled")
	}
	if _, topic, ok := r.Get("u1", FeatureChat); !ok || topic != "group-2" {
		t.Fatalf("expected group-2 bound, got %q %v", topic, ok)
	}

	r.Bind(ctx, "u1", FeatureCanvas, "global-collaboration-canvas", &fakeSession{}, nil)
	if got := r.Active("u1"); len(got) != 2 || got[0].Feature != FeatureCanvas {
		t.Fatalf("unexpected active %+v", got)
	}
	if n := r.CloseOwner(ctx, "u1"); n != 2 {
		t.Fatalf("closed %d", n)
	}
	if second.closed != 1 {
		t.Fatalf("second session not closed")
	}
	if r.Unbind(ctx, "u1", FeatureChat) {
		t.Fatalf("nothing left to unbind")
	}
}

func TestHubKicksFullSubscriber(t *testing.T) {
	h := NewHub(SimplePolicy{})
	ok, full := &fakeConn{}, &fakeConn{full: true}
	h.AddSubscriber("ok", ok)
	h.AddSubscriber("full", full)

	res := h.Broadcast(core.Frame(`{}`))
	if res.SendTo != 1 || len(res.Kicked) != 1 || res.Kicked[0] != "full" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !full.closed || h.Count() != 1 {
		t.Fatalf("full subscriber must be closed and removed")
	}
}

func TestHubTolerantPolicy(t *testing.T) {
	h := NewHub(TolerantPolicy{MaxStrikes: 3})
	c := &fakeConn{full: true}
	h.AddSubscriber("s", c)

	h.Broadcast(core.Frame(`1`))
	if !h.IsSlow("s") {
		t.Fatalf("first miss marks slow")
	}
	h.Broadcast(core.Frame(`2`))
	if h.Count() != 1 {
		t.Fatalf("second miss only drops")
	}
	h.Broadcast(core.Frame(`3`))
	if h.Count() != 0 || !c.closed {
		t.Fatalf("third miss kicks")
	}
}

func TestHubPublishEncodesEvent(t *testing.T) {
	h := NewHub(nil)
	c := &fakeConn{}
	h.AddSubscriber("s", c)
	core.Emit(h, "presence", "group-1", []string{"u1"})
	if len(c.frames) != 1 {
		t.Fatalf("expected one frame")
	}
	if got := string(c.frames[0]); !strings.Contains(got, `"type":"presence"`) || !strings.Contains(got, `"topic":"group-1"`) {
		t.Fatalf("unexpected frame %s", got)
	}
}
