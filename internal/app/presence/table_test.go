package presence

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

func meta(t *testing.T, id, name string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(domain.PresenceMeta{UserID: domain.UserID(id), Username: name})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestSyncParticipantsEqualKeySet(t *testing.T) {
	tbl := NewTable()
	renders := 0
	tbl.OnRender(func([]domain.PeerState) { renders++ })

	tbl.Sync(core.PresenceSet{
		"u1": {meta(t, "u1", "ann")},
		"u2": {meta(t, "u2", "bob")},
		"u3": {meta(t, "u3", "cid")},
	})
	if got := tbl.Keys(); !reflect.DeepEqual(got, []domain.UserID{"u1", "u2", "u3"}) {
		t.Fatalf("keys = %v", got)
	}

	tbl.Sync(core.PresenceSet{"u2": {meta(t, "u2", "bob")}})
	if got := tbl.Keys(); !reflect.DeepEqual(got, []domain.UserID{"u2"}) {
		t.Fatalf("keys after second sync = %v", got)
	}
	if renders != 2 {
		t.Fatalf("each sync must render once, got %d", renders)
	}
	p, _ := tbl.Get("u2")
	if p.Username != "bob" || !p.Online {
		t.Fatalf("unexpected peer %+v", p)
	}
}

func TestUpsertInPlaceDoesNotRender(t *testing.T) {
	tbl := NewTable()
	renders := 0
	tbl.OnRender(func([]domain.PeerState) { renders++ })

	if !tbl.MoveCursor("u1", "ann", domain.Point{X: 1, Y: 1}) {
		t.Fatalf("first cursor must create the peer")
	}
	if renders != 1 {
		t.Fatalf("new peer must render, got %d", renders)
	}
	for i := 0; i < 10; i++ {
		if tbl.MoveCursor("u1", "", domain.Point{X: float64(i), Y: 2}) {
			t.Fatalf("known peer reported as new")
		}
	}
	if renders != 1 {
		t.Fatalf("in-place updates must not render, got %d", renders)
	}
	p, _ := tbl.Get("u1")
	if p.Cursor == nil || p.Cursor.X != 9 || p.Username != "ann" {
		t.Fatalf("unexpected peer %+v", p)
	}
}

func TestSyncKeepsCursorOfRemainingPeers(t *testing.T) {
	tbl := NewTable()
	tbl.MoveCursor("u1", "ann", domain.Point{X: 3, Y: 4})
	tbl.Sync(core.PresenceSet{"u1": {meta(t, "u1", "ann")}, "u2": {meta(t, "u2", "bob")}})
	p, _ := tbl.Get("u1")
	if p.Cursor == nil || *p.Cursor != (domain.Point{X: 3, Y: 4}) {
		t.Fatalf("cursor lost on sync: %+v", p)
	}
}

func TestRemoveAndSnapshotCopies(t *testing.T) {
	tbl := NewTable()
	tbl.MoveCursor("u1", "ann", domain.Point{X: 1})
	snap := tbl.Snapshot()
	snap[0].Cursor.X = 100
	p, _ := tbl.Get("u1")
	if p.Cursor.X != 1 {
		t.Fatalf("snapshot must not alias table state")
	}
	if !tbl.Remove("u1") || tbl.Remove("u1") {
		t.Fatalf("remove should report presence once")
	}
	if tbl.Len() != 0 {
		t.Fatalf("table not empty")
	}
}
