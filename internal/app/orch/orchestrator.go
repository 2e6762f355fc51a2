// Package orch ties the live session to the feature sessions the UI opens and
// fans their state out through the hub.
package orch

import (
	"context"
	"time"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/directory"
	"github.com/dkeye/Beacon/internal/app/media"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/rs/zerolog/log"
)

const EventAlert = "alert"

// Identity reports the signed-in user.
type Identity interface {
	User() (domain.User, error)
}

type Orchestrator struct {
	Registry  *app.Registry
	Hub       *app.Hub
	Identity  Identity
	Channels  core.ChannelFactory
	Tables    core.TableClient
	Pipeline  *media.Pipeline
	Directory *directory.Service
	Media     core.MediaFactory
	Prompter  core.PermissionPrompter
	Alerts    *alert.Sink

	HistoryLimit   int
	CursorThrottle time.Duration
}

// ForwardAlerts publishes every raised alert to UI subscribers.
func (o *Orchestrator) ForwardAlerts() {
	if o.Alerts == nil || o.Hub == nil {
		return
	}
	o.Alerts.Listen(func(a alert.Alert) {
		core.Emit(o.Hub, EventAlert, "", a)
	})
}

func (o *Orchestrator) publisher() core.Publisher {
	if o.Hub == nil {
		return nil
	}
	return o.Hub
}

func (o *Orchestrator) me() (domain.User, error) {
	u, err := o.Identity.User()
	if err != nil {
		return domain.User{}, o.Alerts.Raise(alert.New(alert.Auth, "orch.identity", err))
	}
	return u, nil
}

// Active lists the feature sessions of the signed-in user.
func (o *Orchestrator) Active() []app.Binding {
	u, err := o.Identity.User()
	if err != nil {
		return nil
	}
	return o.Registry.Active(string(u.ID))
}

// CloseAll tears down every session of owner, e.g. on sign-out.
func (o *Orchestrator) CloseAll(ctx context.Context, owner domain.UserID) {
	n := o.Registry.CloseOwner(ctx, string(owner))
	log.Info().Str("module", "orch").Str("owner", string(owner)).Int("closed", n).Msg("sessions closed")
}
