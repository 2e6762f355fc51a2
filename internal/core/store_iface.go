package core

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"time"
)

// StoredSession is what survives an app restart.
type StoredSession struct {
	UserID       string
	Email        string
	RefreshToken string
	SavedAt      time.Time
}

// SettingBiometrics gates session restore behind a biometric check.
const SettingBiometrics = "biometrics_enabled"

// SessionStore persists the refresh token between runs.
type SessionStore interface {
	SaveSession(ctx context.Context, s StoredSession) error
	// LoadSession returns ErrNotFound when nothing is persisted.
	LoadSession(ctx context.Context) (*StoredSession, error)
	ClearSession(ctx context.Context) error
	SetSetting(ctx context.Context, key, value string) error
	Setting(ctx context.Context, key string) (string, error)
}

// Query is a PostgREST style row selector.
type Query struct {
	Select  string
	Filters url.Values
	Order   string
	Limit   int
}

func NewQuery() *Query { return &Query{Filters: url.Values{}} }

func (q *Query) Eq(col, v string) *Query  { q.Filters.Add(col, "eq."+v); return q }
func (q *Query) Gte(col, v string) *Query { q.Filters.Add(col, "gte."+v); return q }
func (q *Query) Lte(col, v string) *Query { q.Filters.Add(col, "lte."+v); return q }

func (q *Query) In(col string, vs ...string) *Query {
	list := ""
	for i, v := range vs {
		if i > 0 {
			list += ","
		}
		list += v
	}
	q.Filters.Add(col, "in.("+list+")")
	return q
}

func (q *Query) OrderBy(col string, asc bool) *Query {
	dir := "desc"
	if asc {
		dir = "asc"
	}
	q.Order = col + "." + dir
	return q
}

func (q *Query) WithLimit(n int) *Query { q.Limit = n; return q }

// Values renders the query string.
func (q *Query) Values() url.Values {
	v := url.Values{}
	if q == nil {
		v.Set("select", "*")
		return v
	}
	for k, vs := range q.Filters {
		for _, x := range vs {
			v.Add(k, x)
		}
	}
	sel := q.Select
	if sel == "" {
		sel = "*"
	}
	v.Set("select", sel)
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// TableClient talks to the BaaS tables.
type TableClient interface {
	Select(ctx context.Context, table string, q *Query, out any) error
	Insert(ctx context.Context, table string, row any, out any) error
	Upsert(ctx context.Context, table string, row any, onConflict string, out any) error
	Update(ctx context.Context, table string, q *Query, patch any, out any) error
}

// ObjectStorage uploads objects and resolves their public URL.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, object string, body io.ReadSeeker, size int64, contentType string) error
	PublicURL(bucket, object string) string
}
