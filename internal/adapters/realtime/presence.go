package realtime

import (
	"encoding/json"

	"github.com/dkeye/Beacon/internal/core"
)

// presenceState mirrors the server presence map of one channel.
// Metas are matched by their phx_ref.
type presenceState map[string][]json.RawMessage

type metaRef struct {
	PhxRef string `json:"phx_ref"`
}

func refOf(meta json.RawMessage) string {
	var r metaRef
	_ = json.Unmarshal(meta, &r)
	return r.PhxRef
}

func (s presenceState) snapshot() core.PresenceSet {
	out := make(core.PresenceSet, len(s))
	for k, metas := range s {
		out[k] = append([]json.RawMessage(nil), metas...)
	}
	return out
}

type presenceChange struct {
	key   string
	metas []json.RawMessage
}

// syncState replaces the state and reports who joined and who left.
func syncState(cur presenceState, next map[string]presenceEntry) (presenceState, []presenceChange, []presenceChange) {
	var joins, leaves []presenceChange
	out := make(presenceState, len(next))
	for k, e := range next {
		out[k] = e.Metas
		if _, ok := cur[k]; !ok {
			joins = append(joins, presenceChange{key: k, metas: e.Metas})
		}
	}
	for k, metas := range cur {
		if _, ok := next[k]; !ok {
			leaves = append(leaves, presenceChange{key: k, metas: metas})
		}
	}
	return out, joins, leaves
}

// syncDiff applies joins then leaves in place. Changes are per key: a join
// is reported when a key appears and a leave when its last meta is gone, so a
// second tab of the same user neither joins nor leaves it.
func syncDiff(cur presenceState, d presenceDiff) ([]presenceChange, []presenceChange) {
	var joins, leaves []presenceChange
	for k, e := range d.Joins {
		existing, had := cur[k]
		known := make(map[string]bool, len(existing))
		for _, m := range existing {
			known[refOf(m)] = true
		}
		merged := existing
		for _, m := range e.Metas {
			if r := refOf(m); r == "" || !known[r] {
				merged = append(merged, m)
			}
		}
		cur[k] = merged
		if !had {
			joins = append(joins, presenceChange{key: k, metas: e.Metas})
		}
	}
	for k, e := range d.Leaves {
		existing, ok := cur[k]
		if !ok {
			continue
		}
		gone := make(map[string]bool, len(e.Metas))
		for _, m := range e.Metas {
			gone[refOf(m)] = true
		}
		kept := existing[:0]
		for _, m := range existing {
			if !gone[refOf(m)] {
				kept = append(kept, m)
			}
		}
		if len(kept) > 0 {
			cur[k] = kept
			continue
		}
		delete(cur, k)
		leaves = append(leaves, presenceChange{key: k, metas: e.Metas})
	}
	return joins, leaves
}
