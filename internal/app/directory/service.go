// Package directory lists the groups, customers and areas a user can see.
package directory

import (
	"context"
	"sort"
	"strconv"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

type Service struct {
	tables core.TableClient
	alerts *alert.Sink
}

func NewService(tables core.TableClient, alerts *alert.Sink) *Service {
	return &Service{tables: tables, alerts: alerts}
}

func (s *Service) Groups(ctx context.Context, user domain.UserID) ([]domain.Group, error) {
	var rows []domain.UserGroup
	if err := s.tables.Select(ctx, "user_groups", core.NewQuery().Eq("user_id", string(user)), &rows); err != nil {
		return nil, s.alerts.Raise(alert.New(alert.Network, "directory.groups", err))
	}
	out := make([]domain.Group, 0, len(rows))
	seen := make(map[domain.GroupID]bool, len(rows))
	for _, r := range rows {
		if seen[r.GroupID] {
			continue
		}
		seen[r.GroupID] = true
		out = append(out, domain.Group{ID: r.GroupID, Name: r.GroupName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IsMember reports whether user belongs to group.
func (s *Service) IsMember(ctx context.Context, user domain.UserID, group domain.GroupID) (bool, error) {
	var rows []domain.UserGroup
	q := core.NewQuery().Eq("user_id", string(user)).Eq("group_id", string(group)).WithLimit(1)
	if err := s.tables.Select(ctx, "user_groups", q, &rows); err != nil {
		return false, s.alerts.Raise(alert.New(alert.Network, "directory.member", err))
	}
	return len(rows) > 0, nil
}

func (s *Service) Customers(ctx context.Context, group domain.GroupID) ([]domain.Customer, error) {
	var links []domain.CustomerGroup
	if err := s.tables.Select(ctx, "customer_groups", core.NewQuery().Eq("group_id", string(group)), &links); err != nil {
		return nil, s.alerts.Raise(alert.New(alert.Network, "directory.customers", err))
	}
	if len(links) == 0 {
		return []domain.Customer{}, nil
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, strconv.FormatInt(l.CustomerID, 10))
	}
	var out []domain.Customer
	q := core.NewQuery().In("id", ids...).OrderBy("name", true)
	if err := s.tables.Select(ctx, "customers", q, &out); err != nil {
		return nil, s.alerts.Raise(alert.New(alert.Network, "directory.customers", err))
	}
	return out, nil
}

func (s *Service) Areas(ctx context.Context) ([]domain.Area, error) {
	var out []domain.Area
	if err := s.tables.Select(ctx, "area_master", core.NewQuery().OrderBy("area_name", true), &out); err != nil {
		return nil, s.alerts.Raise(alert.New(alert.Network, "directory.areas", err))
	}
	return out, nil
}
