package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/canvas"
	"github.com/dkeye/Beacon/internal/app/chat"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNotMember = errors.New("not a member of this group")

// OpenChat joins a group conversation, leaving the previous one.
func (o *Orchestrator) OpenChat(ctx context.Context, group domain.GroupID) (*chat.Room, error) {
	u, err := o.me()
	if err != nil {
		return nil, err
	}
	if room, ok := o.Chat(); ok && room.Group() == group {
		return room, nil
	}
	if o.Directory != nil {
		ok, err := o.Directory.IsMember(ctx, u.ID, group)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, o.Alerts.Raise(alert.New(alert.PermissionDenied, "orch.chat", ErrNotMember))
		}
	}

	room, err := chat.Open(ctx, chat.Deps{
		Tables:    o.Tables,
		Channels:  o.Channels,
		Pipeline:  o.Pipeline,
		Publisher: o.publisher(),
		Alerts:    o.Alerts,
	}, group, u, o.HistoryLimit)
	if err != nil {
		return nil, err
	}
	o.Registry.Bind(ctx, string(u.ID), app.FeatureChat, room.Topic(), room, nil)
	log.Info().Str("module", "orch").Str("group", string(group)).Msg("chat opened")
	return room, nil
}

func (o *Orchestrator) Chat() (*chat.Room, bool) {
	u, err := o.Identity.User()
	if err != nil {
		return nil, false
	}
	s, _, ok := o.Registry.Get(string(u.ID), app.FeatureChat)
	if !ok {
		return nil, false
	}
	room, ok := s.(*chat.Room)
	return room, ok
}

// ChatFor returns the open room when it belongs to group.
func (o *Orchestrator) ChatFor(group domain.GroupID) (*chat.Room, bool) {
	room, ok := o.Chat()
	if !ok || room.Group() != group {
		return nil, false
	}
	return room, true
}

func (o *Orchestrator) CloseChat(ctx context.Context) bool {
	u, err := o.Identity.User()
	if err != nil {
		return false
	}
	return o.Registry.Unbind(ctx, string(u.ID), app.FeatureChat)
}

// OpenCanvas joins the shared drawing, or the cursor demo when cursorOnly.
func (o *Orchestrator) OpenCanvas(ctx context.Context, cursorOnly bool) (*canvas.Session, error) {
	u, err := o.me()
	if err != nil {
		return nil, err
	}
	f := app.FeatureCanvas
	if cursorOnly {
		f = app.FeatureCursor
	}
	if s, ok := o.canvas(u.ID, f); ok {
		return s, nil
	}
	s, err := canvas.Open(ctx, canvas.Deps{
		Channels:  o.Channels,
		Publisher: o.publisher(),
		Alerts:    o.Alerts,
	}, u, canvas.Options{CursorOnly: cursorOnly, Throttle: o.CursorThrottle})
	if err != nil {
		return nil, err
	}
	o.Registry.Bind(ctx, string(u.ID), f, s.Topic(), s, nil)
	return s, nil
}

func (o *Orchestrator) Canvas(cursorOnly bool) (*canvas.Session, bool) {
	u, err := o.Identity.User()
	if err != nil {
		return nil, false
	}
	f := app.FeatureCanvas
	if cursorOnly {
		f = app.FeatureCursor
	}
	return o.canvas(u.ID, f)
}

func (o *Orchestrator) canvas(owner domain.UserID, f app.Feature) (*canvas.Session, bool) {
	s, _, ok := o.Registry.Get(string(owner), f)
	if !ok {
		return nil, false
	}
	cs, ok := s.(*canvas.Session)
	return cs, ok
}

func (o *Orchestrator) CloseCanvas(ctx context.Context, cursorOnly bool) bool {
	u, err := o.Identity.User()
	if err != nil {
		return false
	}
	f := app.FeatureCanvas
	if cursorOnly {
		f = app.FeatureCursor
	}
	return o.Registry.Unbind(ctx, string(u.ID), f)
}
