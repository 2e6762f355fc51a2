package orch

import (
	"context"

	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/call"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinCall enters the group call, hanging up any call in another group.
func (o *Orchestrator) JoinCall(ctx context.Context, group domain.GroupID) (*call.Relay, error) {
	u, err := o.me()
	if err != nil {
		return nil, err
	}
	if r, ok := o.Call(); ok && r.Topic() == domain.CallTopic(group) {
		return r, nil
	}
	r, err := call.Join(ctx, call.Deps{
		Channels:  o.Channels,
		Media:     o.Media,
		Prompter:  o.Prompter,
		Publisher: o.publisher(),
		Alerts:    o.Alerts,
	}, group, u.ID)
	if err != nil {
		return nil, err
	}
	o.Registry.Bind(ctx, string(u.ID), app.FeatureCall, r.Topic(), r, nil)
	log.Info().Str("module", "orch").Str("group", string(group)).Msg("call joined")
	return r, nil
}

func (o *Orchestrator) Call() (*call.Relay, bool) {
	u, err := o.Identity.User()
	if err != nil {
		return nil, false
	}
	s, _, ok := o.Registry.Get(string(u.ID), app.FeatureCall)
	if !ok {
		return nil, false
	}
	r, ok := s.(*call.Relay)
	return r, ok
}

// Hangup leaves the current call. Reports whether there was one.
func (o *Orchestrator) Hangup(ctx context.Context) bool {
	u, err := o.Identity.User()
	if err != nil {
		return false
	}
	return o.Registry.Unbind(ctx, string(u.ID), app.FeatureCall)
}
