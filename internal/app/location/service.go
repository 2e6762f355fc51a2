package location

import (
	"context"
	"strconv"
	"time"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/rs/zerolog/log"
)

const table = "location_history"

type Service struct {
	tables core.TableClient
	alerts *alert.Sink
}

func NewService(tables core.TableClient, alerts *alert.Sink) *Service {
	return &Service{tables: tables, alerts: alerts}
}

// Window bounds a history query; zero times are open ends.
type Window struct {
	From  time.Time
	To    time.Time
	Limit int
}

func (s *Service) History(ctx context.Context, user domain.UserID, w Window) ([]domain.LocationPoint, error) {
	q := core.NewQuery().Eq("user_id", string(user)).OrderBy("recorded_at", true)
	if !w.From.IsZero() {
		q.Gte("recorded_at", w.From.UTC().Format(time.RFC3339))
	}
	if !w.To.IsZero() {
		q.Lte("recorded_at", w.To.UTC().Format(time.RFC3339))
	}
	if w.Limit > 0 {
		q.WithLimit(w.Limit)
	}
	var points []domain.LocationPoint
	if err := s.tables.Select(ctx, table, q, &points); err != nil {
		return nil, s.alerts.Raise(alert.New(alert.Network, "location.history", err))
	}
	log.Debug().Str("module", "app.location").Str("user", string(user)).Int("points", len(points)).Msg("history fetched")
	return points, nil
}

type Report struct {
	Stats  domain.LocationStats   `json:"stats"`
	Points []domain.LocationPoint `json:"points,omitempty"`
}

func (s *Service) Stats(ctx context.Context, user domain.UserID, w Window) (*Report, error) {
	points, err := s.History(ctx, user, w)
	if err != nil {
		return nil, err
	}
	return &Report{Stats: Compute(points), Points: points}, nil
}

// Record appends one fix for user.
func (s *Service) Record(ctx context.Context, p domain.LocationPoint) error {
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return s.alerts.Raise(alert.Newf(alert.Internal, "location.record", "invalid coordinate %s,%s",
			strconv.FormatFloat(p.Latitude, 'f', -1, 64), strconv.FormatFloat(p.Longitude, 'f', -1, 64)))
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now().UTC()
	}
	if err := s.tables.Insert(ctx, table, p, nil); err != nil {
		return s.alerts.Raise(alert.New(alert.Network, "location.record", err))
	}
	return nil
}
