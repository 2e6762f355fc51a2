// Package presence keeps the per-channel map of peer id to last-known
// ephemeral state. Structural changes (sync, new peer, removal) notify
// render listeners; in-place updates of a known peer do not.
package presence

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/rs/zerolog/log"
)

type Table struct {
	mu       sync.RWMutex
	peers    map[domain.UserID]*domain.PeerState
	onRender []func([]domain.PeerState)
	now      func() time.Time
}

func NewTable() *Table {
	return &Table{
		peers: make(map[domain.UserID]*domain.PeerState),
		now:   time.Now,
	}
}

// OnRender registers a listener for structural changes.
func (t *Table) OnRender(fn func([]domain.PeerState)) {
	t.mu.Lock()
	t.onRender = append(t.onRender, fn)
	t.mu.Unlock()
}

// Sync replaces the table from a reported presence set. Cursors of peers
// that are still present survive the replacement.
func (t *Table) Sync(set core.PresenceSet) {
	now := t.now()
	t.mu.Lock()
	next := make(map[domain.UserID]*domain.PeerState, len(set))
	for key, metas := range set {
		id := domain.UserID(key)
		p := &domain.PeerState{ID: id, Online: true, UpdatedAt: now}
		if len(metas) > 0 {
			var meta domain.PresenceMeta
			if err := json.Unmarshal(metas[len(metas)-1], &meta); err != nil {
				log.Warn().Err(err).Str("module", "app.presence").Str("key", key).Msg("bad presence meta")
			}
			p.Username = meta.Username
			p.OnlineAt = meta.OnlineAt
		}
		if old, ok := t.peers[id]; ok {
			p.Cursor = old.Cursor
			if p.Username == "" {
				p.Username = old.Username
			}
		}
		next[id] = p
	}
	t.peers = next
	t.mu.Unlock()
	t.render()
}

// Upsert mutates one peer in place. Reports whether the peer was new;
// only a new peer triggers a render.
func (t *Table) Upsert(id domain.UserID, mutate func(*domain.PeerState)) bool {
	t.mu.Lock()
	p, ok := t.peers[id]
	if !ok {
		p = &domain.PeerState{ID: id, Online: true}
		t.peers[id] = p
	}
	mutate(p)
	p.UpdatedAt = t.now()
	t.mu.Unlock()
	if !ok {
		t.render()
	}
	return !ok
}

// MoveCursor is the common broadcast upsert.
func (t *Table) MoveCursor(id domain.UserID, username string, at domain.Point) bool {
	return t.Upsert(id, func(p *domain.PeerState) {
		pt := at
		p.Cursor = &pt
		if username != "" {
			p.Username = username
		}
	})
}

func (t *Table) Remove(id domain.UserID) bool {
	t.mu.Lock()
	_, ok := t.peers[id]
	delete(t.peers, id)
	t.mu.Unlock()
	if ok {
		t.render()
	}
	return ok
}

// Clear drops every entry, used when the owning channel closes.
func (t *Table) Clear() {
	t.mu.Lock()
	n := len(t.peers)
	t.peers = make(map[domain.UserID]*domain.PeerState)
	t.mu.Unlock()
	if n > 0 {
		t.render()
	}
}

func (t *Table) Get(id domain.UserID) (domain.PeerState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	if !ok {
		return domain.PeerState{}, false
	}
	return copyPeer(p), true
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Keys returns peer ids sorted.
func (t *Table) Keys() []domain.UserID {
	t.mu.RLock()
	out := make([]domain.UserID, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot returns copies sorted by id.
func (t *Table) Snapshot() []domain.PeerState {
	t.mu.RLock()
	out := make([]domain.PeerState, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, copyPeer(p))
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Table) render() {
	t.mu.RLock()
	fns := append([]func([]domain.PeerState){}, t.onRender...)
	t.mu.RUnlock()
	if len(fns) == 0 {
		return
	}
	snap := t.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

func copyPeer(p *domain.PeerState) domain.PeerState {
	c := *p
	if p.Cursor != nil {
		pt := *p.Cursor
		c.Cursor = &pt
	}
	return c
}
