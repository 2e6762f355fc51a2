// Package alert holds the user-facing failure taxonomy.
package alert

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

type Kind string

const (
	PermissionDenied Kind = "permission_denied"
	Network          Kind = "network"
	TooLarge         Kind = "too_large"
	Auth             Kind = "auth"
	Upload           Kind = "upload"
	Internal         Kind = "internal"
)

// Error is a failure that must reach the user as a blocking alert.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err; a nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an alert with a user-facing message.
func Newf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err, Internal for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// Alert is what listeners receive.
type Alert struct {
	Kind    Kind   `json:"kind"`
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}

func FromError(err error) Alert {
	var ae *Error
	if errors.As(err, &ae) {
		msg := ae.Msg
		if msg == "" && ae.Err != nil {
			msg = ae.Err.Error()
		}
		return Alert{Kind: ae.Kind, Op: ae.Op, Message: msg}
	}
	return Alert{Kind: Internal, Message: err.Error()}
}

// Sink fans alerts out to listeners after logging them.
type Sink struct {
	mu        sync.RWMutex
	listeners []func(Alert)
}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) Listen(fn func(Alert)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Raise logs err and notifies listeners. Returns err unchanged.
func (s *Sink) Raise(err error) error {
	if err == nil {
		return nil
	}
	a := FromError(err)
	log.Warn().Str("module", "alert").Str("kind", string(a.Kind)).Str("op", a.Op).Msg(a.Message)
	if s == nil {
		return err
	}
	s.mu.RLock()
	ls := append([]func(Alert){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range ls {
		fn(a)
	}
	return err
}
