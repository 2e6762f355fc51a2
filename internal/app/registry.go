package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Feature names one realtime usage per owner.
type Feature string

const (
	FeatureChat   Feature = "chat"
	FeatureCanvas Feature = "canvas"
	FeatureCursor Feature = "cursor"
	FeatureCall   Feature = "call"
)

// Closer is a feature session bound to a channel.
type Closer interface {
	Close(ctx context.Context) error
}

type bindingKey struct {
	owner   string
	feature Feature
}

type bindingEntry struct {
	Topic   string
	Session Closer
	Cancel  context.CancelFunc
	Since   time.Time
}

type Binding struct {
	Feature Feature   `json:"feature"`
	Topic   string    `json:"topic"`
	Since   time.Time `json:"since"`
}

// Registry holds at most one live session per owner and feature.
type Registry struct {
	mu       sync.RWMutex
	bindings map[bindingKey]*bindingEntry
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[bindingKey]*bindingEntry)}
}

// Bind stores sess, closing whatever was bound under the same key first.
func (r *Registry) Bind(ctx context.Context, owner string, f Feature, topic string, sess Closer, cancel context.CancelFunc) {
	key := bindingKey{owner, f}
	r.mu.Lock()
	prev := r.bindings[key]
	r.bindings[key] = &bindingEntry{Topic: topic, Session: sess, Cancel: cancel, Since: time.Now()}
	r.mu.Unlock()

	if prev != nil {
		closeEntry(ctx, prev)
		log.Info().Str("module", "app.registry").Str("owner", owner).Str("feature", string(f)).Str("from", prev.Topic).Str("to", topic).Msg("rebound")
		return
	}
	log.Info().Str("module", "app.registry").Str("owner", owner).Str("feature", string(f)).Str("topic", topic).Msg("bound")
}

func (r *Registry) Get(owner string, f Feature) (Closer, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.bindings[bindingKey{owner, f}]
	if !ok {
		return nil, "", false
	}
	return e.Session, e.Topic, true
}

// Unbind closes and forgets one binding.
func (r *Registry) Unbind(ctx context.Context, owner string, f Feature) bool {
	key := bindingKey{owner, f}
	r.mu.Lock()
	e, ok := r.bindings[key]
	delete(r.bindings, key)
	r.mu.Unlock()
	if !ok {
		return false
	}
	closeEntry(ctx, e)
	log.Info().Str("module", "app.registry").Str("owner", owner).Str("feature", string(f)).Msg("unbound")
	return true
}

// CloseOwner tears down every binding of owner.
func (r *Registry) CloseOwner(ctx context.Context, owner string) int {
	r.mu.Lock()
	var entries []*bindingEntry
	for k, e := range r.bindings {
		if k.owner == owner {
			entries = append(entries, e)
			delete(r.bindings, k)
		}
	}
	r.mu.Unlock()
	for _, e := range entries {
		closeEntry(ctx, e)
	}
	return len(entries)
}

// Active lists bindings of owner sorted by feature.
func (r *Registry) Active(owner string) []Binding {
	r.mu.RLock()
	out := make([]Binding, 0, 4)
	for k, e := range r.bindings {
		if k.owner == owner {
			out = append(out, Binding{Feature: k.feature, Topic: e.Topic, Since: e.Since})
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out
}

func closeEntry(ctx context.Context, e *bindingEntry) {
	if e.Cancel != nil {
		e.Cancel()
	}
	if e.Session != nil {
		if err := e.Session.Close(ctx); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Str("topic", e.Topic).Msg("close failed")
		}
	}
}
