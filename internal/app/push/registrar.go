// Package push registers device push tokens with the backend.
package push

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/rs/zerolog/log"
)

const table = "user_push_tokens"

var expoToken = regexp.MustCompile(`^Expo(nent)?PushToken\[[^\]]+\]$`)

type Registrar struct {
	tables   core.TableClient
	prompter core.PermissionPrompter
	alerts   *alert.Sink
}

func NewRegistrar(tables core.TableClient, prompter core.PermissionPrompter, alerts *alert.Sink) *Registrar {
	return &Registrar{tables: tables, prompter: prompter, alerts: alerts}
}

func ValidToken(provider domain.PushProvider, token string) bool {
	switch provider {
	case domain.PushExpo:
		return expoToken.MatchString(token)
	case domain.PushNative:
		return len(token) >= 16 && !strings.ContainsAny(token, " \t\n")
	}
	return false
}

// Register asks for notification permission, then upserts the token keyed on its value.
func (r *Registrar) Register(ctx context.Context, user domain.UserID, token string, provider domain.PushProvider, platform string) (*domain.PushToken, error) {
	token = strings.TrimSpace(token)
	if !ValidToken(provider, token) {
		return nil, r.alerts.Raise(alert.Newf(alert.Internal, "push.register", "invalid %s push token", provider))
	}
	if r.prompter != nil {
		granted, err := r.prompter.Request(ctx, core.PermissionNotifications)
		if err != nil {
			return nil, r.alerts.Raise(alert.New(alert.PermissionDenied, "push.register", err))
		}
		if !granted {
			return nil, r.alerts.Raise(alert.Newf(alert.PermissionDenied, "push.register", "notification permission denied"))
		}
	}

	row := domain.PushToken{
		UserID:    user,
		Token:     token,
		Provider:  provider,
		Platform:  platform,
		UpdatedAt: time.Now().UTC(),
	}
	if err := r.tables.Upsert(ctx, table, row, "token", nil); err != nil {
		return nil, r.alerts.Raise(alert.New(alert.Network, "push.register", err))
	}
	log.Info().Str("module", "app.push").Str("user", string(user)).Str("provider", string(provider)).Msg("push token registered")
	return &row, nil
}
