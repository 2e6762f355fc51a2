// Package coretest provides in-memory core ports for tests.
package coretest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/dkeye/Beacon/internal/core"
)

type Row = map[string]any

// Tables is an in-memory core.TableClient understanding eq/gte/lte/in filters.
type Tables struct {
	mu    sync.Mutex
	rows  map[string][]Row
	calls []string

	// Err, when set, fails every call.
	Err error
	// OnInsert runs after each stored insert or upsert.
	OnInsert func(table string, row Row)
}

var _ core.TableClient = (*Tables)(nil)

func NewTables() *Tables { return &Tables{rows: make(map[string][]Row)} }

// Seed stores rows without recording a call.
func (t *Tables) Seed(table string, rows ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range rows {
		t.rows[table] = append(t.rows[table], toRow(r))
	}
}

func (t *Tables) Rows(table string) []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Row(nil), t.rows[table]...)
}

// Calls lists "op table" in call order.
func (t *Tables) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *Tables) record(op, table string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, op+" "+table)
	return t.Err
}

func (t *Tables) Select(_ context.Context, table string, q *core.Query, out any) error {
	if err := t.record("select", table); err != nil {
		return err
	}
	t.mu.Lock()
	var res []Row
	for _, r := range t.rows[table] {
		if match(r, q) {
			res = append(res, r)
		}
	}
	t.mu.Unlock()
	if q != nil && q.Order != "" {
		col, dir, _ := strings.Cut(q.Order, ".")
		sort.SliceStable(res, func(i, j int) bool {
			a, b := fmt.Sprint(res[i][col]), fmt.Sprint(res[j][col])
			if dir == "desc" {
				return a > b
			}
			return a < b
		})
	}
	if q != nil && q.Limit > 0 && len(res) > q.Limit {
		res = res[:q.Limit]
	}
	if res == nil {
		res = []Row{}
	}
	return remarshal(res, out)
}

func (t *Tables) Insert(_ context.Context, table string, row any, out any) error {
	if err := t.record("insert", table); err != nil {
		return err
	}
	r := toRow(row)
	t.mu.Lock()
	t.rows[table] = append(t.rows[table], r)
	hook := t.OnInsert
	t.mu.Unlock()
	if hook != nil {
		hook(table, r)
	}
	if out != nil {
		return remarshal([]Row{r}, out)
	}
	return nil
}

func (t *Tables) Upsert(_ context.Context, table string, row any, onConflict string, out any) error {
	if err := t.record("upsert", table); err != nil {
		return err
	}
	r := toRow(row)
	t.mu.Lock()
	replaced := false
	for i, cur := range t.rows[table] {
		if onConflict != "" && fmt.Sprint(cur[onConflict]) == fmt.Sprint(r[onConflict]) {
			for k, v := range r {
				cur[k] = v
			}
			t.rows[table][i] = cur
			r = cur
			replaced = true
			break
		}
	}
	if !replaced {
		t.rows[table] = append(t.rows[table], r)
	}
	hook := t.OnInsert
	t.mu.Unlock()
	if hook != nil {
		hook(table, r)
	}
	if out != nil {
		return remarshal([]Row{r}, out)
	}
	return nil
}

func (t *Tables) Update(_ context.Context, table string, q *core.Query, patch any, out any) error {
	if err := t.record("update", table); err != nil {
		return err
	}
	p := toRow(patch)
	t.mu.Lock()
	var res []Row
	for _, r := range t.rows[table] {
		if match(r, q) {
			for k, v := range p {
				r[k] = v
			}
			res = append(res, r)
		}
	}
	t.mu.Unlock()
	if out != nil {
		if res == nil {
			res = []Row{}
		}
		return remarshal(res, out)
	}
	return nil
}

func match(r Row, q *core.Query) bool {
	if q == nil {
		return true
	}
	for col, conds := range q.Filters {
		v := fmt.Sprint(r[col])
		for _, c := range conds {
			op, arg, _ := strings.Cut(c, ".")
			switch op {
			case "eq":
				if v != arg {
					return false
				}
			case "gte":
				if v < arg {
					return false
				}
			case "lte":
				if v > arg {
					return false
				}
			case "in":
				found := false
				for _, x := range strings.Split(strings.Trim(arg, "()"), ",") {
					if x == v {
						found = true
					}
				}
				if !found {
					return false
				}
			}
		}
	}
	return true
}

func toRow(v any) Row {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var r Row
	if err := json.Unmarshal(b, &r); err != nil {
		panic(err)
	}
	return r
}

func remarshal(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Storage is an in-memory core.ObjectStorage.
type Storage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	uploads int

	Err error
}

var _ core.ObjectStorage = (*Storage)(nil)

func NewStorage() *Storage {
	return &Storage{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (s *Storage) Upload(ctx context.Context, bucket, object string, body io.ReadSeeker, size int64, contentType string) error {
	s.mu.Lock()
	s.uploads++
	err := s.Err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, body, size); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+object] = buf.Bytes()
	s.types[bucket+"/"+object] = contentType
	return ctx.Err()
}

func (s *Storage) PublicURL(bucket, object string) string {
	return "https://files.test/storage/v1/object/public/" + bucket + "/" + object
}

// Uploads counts Upload calls, including failed ones.
func (s *Storage) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

func (s *Storage) Object(bucket, object string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[bucket+"/"+object]
	return b, s.types[bucket+"/"+object], ok
}

// Objects lists stored keys as bucket/object.
func (s *Storage) Objects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
