package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Beacon/internal/adapters/realtime/memory"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/core/coretest"
	"github.com/dkeye/Beacon/internal/domain"
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

// wired returns tables whose inserts are echoed on the bus like the server does.
func wired(bus *memory.Bus) *coretest.Tables {
	tables := coretest.NewTables()
	tables.OnInsert = func(table string, row coretest.Row) {
		raw, _ := json.Marshal(row)
		bus.Emit(core.Change{Type: "INSERT", Schema: "public", Table: table, Record: raw})
	}
	return tables
}

type events struct {
	mu  sync.Mutex
	got []core.Event
}

func (e *events) Publish(ev core.Event) {
	e.mu.Lock()
	e.got = append(e.got, ev)
	e.mu.Unlock()
}

func (e *events) count(typ string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.got {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestOpenLoadsHistoryOldestFirst(t *testing.T) {
	bus := memory.NewBus()
	tables := wired(bus)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		tables.Seed(table, domain.Message{
			ID:        domain.MessageID(text),
			GroupID:   "g1",
			SenderID:  "u2",
			Content:   text,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	tables.Seed(table, domain.Message{ID: "other", GroupID: "g2", Content: "nope", CreatedAt: base})

	r, err := Open(context.Background(), Deps{Tables: tables, Channels: bus}, "g1", domain.User{ID: "u1", Username: "ann"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close(context.Background())

	msgs := r.Messages()
	if len(msgs) != 2 || msgs[0].Content != "second" || msgs[1].Content != "third" {
		t.Fatalf("history = %+v", msgs)
	}
}

func TestSendTextDeliveredOnceToBothMembers(t *testing.T) {
	bus := memory.NewBus()
	tables := wired(bus)
	ctx := context.Background()
	evA := &events{}

	a, err := Open(ctx, Deps{Tables: tables, Channels: bus, Publisher: evA}, "g1", domain.User{ID: "u1", Username: "ann"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)
	b, err := Open(ctx, Deps{Tables: tables, Channels: bus}, "g1", domain.User{ID: "u2", Username: "bob"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close(ctx)

	m, err := a.SendText(ctx, "  hello  ")
	if err != nil {
		t.Fatal(err)
	}
	if m.Content != "hello" || m.ID == "" {
		t.Fatalf("message = %+v", m)
	}

	waitFor(t, "b receives the insert", func() bool { return len(b.Messages()) == 1 })
	if got := b.Messages()[0]; got.ID != m.ID || got.SenderID != "u1" {
		t.Fatalf("b got %+v", got)
	}
	// the echo on a's own channel must not duplicate the message
	time.Sleep(50 * time.Millisecond)
	if n := len(a.Messages()); n != 1 {
		t.Fatalf("sender holds %d messages", n)
	}
	if n := evA.count(EventMessage); n != 1 {
		t.Fatalf("sender published %d message events", n)
	}
}

func TestPresenceTracksParticipants(t *testing.T) {
	bus := memory.NewBus()
	tables := wired(bus)
	ctx := context.Background()

	a, err := Open(ctx, Deps{Tables: tables, Channels: bus}, "g1", domain.User{ID: "u1", Username: "ann"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(ctx)
	b, err := Open(ctx, Deps{Tables: tables, Channels: bus}, "g1", domain.User{ID: "u2", Username: "bob"}, 10)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, "both present", func() bool { return a.Presence.Len() == 2 })
	if err := b.Close(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob leaves", func() bool { return a.Presence.Len() == 1 })
	if _, ok := a.Presence.Get("u1"); !ok {
		t.Fatalf("own presence missing: %v", a.Presence.Keys())
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSendTextRejectsEmpty(t *testing.T) {
	bus := memory.NewBus()
	ctx := context.Background()
	r, err := Open(ctx, Deps{Tables: wired(bus), Channels: bus}, "g1", domain.User{ID: "u1"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close(ctx)
	if _, err := r.SendText(ctx, "   "); err == nil {
		t.Fatalf("empty message accepted")
	}
}
