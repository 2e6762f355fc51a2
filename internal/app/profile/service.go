// Package profile reads and edits the signed-in user's profile row.
package profile

import (
	"context"
	"io"
	"time"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/app/media"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

const table = "profiles"

type Service struct {
	tables   core.TableClient
	pipeline *media.Pipeline
	alerts   *alert.Sink
}

func NewService(tables core.TableClient, pipeline *media.Pipeline, alerts *alert.Sink) *Service {
	return &Service{tables: tables, pipeline: pipeline, alerts: alerts}
}

func (s *Service) Get(ctx context.Context, id domain.UserID) (*domain.Profile, error) {
	var rows []domain.Profile
	q := core.NewQuery().Eq("id", string(id)).WithLimit(1)
	if err := s.tables.Select(ctx, table, q, &rows); err != nil {
		return nil, s.alerts.Raise(alert.New(alert.Network, "profile.get", err))
	}
	if len(rows) == 0 {
		return nil, core.ErrNotFound
	}
	return &rows[0], nil
}

// Update is a partial edit; fields are validated like usernames elsewhere.
type Update struct {
	Username *string `json:"username,omitempty"`
	FullName *string `json:"full_name,omitempty"`
}

func (s *Service) Update(ctx context.Context, id domain.UserID, u Update) (*domain.Profile, error) {
	patch := map[string]any{"updated_at": time.Now().UTC()}
	if u.Username != nil {
		usr := domain.User{ID: id}
		if err := usr.SetUsername(*u.Username); err != nil {
			return nil, s.alerts.Raise(alert.New(alert.Internal, "profile.update", err))
		}
		patch["username"] = usr.Username
	}
	if u.FullName != nil {
		patch["full_name"] = *u.FullName
	}
	return s.patch(ctx, id, "profile.update", patch)
}

// UploadAvatar stores the image in the profile bucket and points avatar_url at it.
func (s *Service) UploadAvatar(ctx context.Context, id domain.UserID, name string, body io.ReadSeeker, size int64) (*domain.Profile, error) {
	asset, err := s.pipeline.Upload(ctx, media.ProfileBucket, "avatars/"+string(id), name, body, size)
	if err != nil {
		return nil, err
	}
	return s.patch(ctx, id, "profile.avatar", map[string]any{
		"avatar_url": asset.URL,
		"updated_at": time.Now().UTC(),
	})
}

func (s *Service) patch(ctx context.Context, id domain.UserID, op string, patch map[string]any) (*domain.Profile, error) {
	var rows []domain.Profile
	if err := s.tables.Update(ctx, table, core.NewQuery().Eq("id", string(id)), patch, &rows); err != nil {
		return nil, s.alerts.Raise(alert.New(alert.Network, op, err))
	}
	if len(rows) == 0 {
		return nil, core.ErrNotFound
	}
	return &rows[0], nil
}
