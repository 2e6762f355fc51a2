package baas

import (
	"context"
	"fmt"

	"github.com/dkeye/Beacon/internal/core"
)

var _ core.TableClient = (*Client)(nil)

func tablePath(table string) string { return "/rest/v1/" + table }

func (c *Client) Select(ctx context.Context, table string, q *core.Query, out any) error {
	resp, err := c.req(ctx).
		SetQueryParamsFromValues(q.Values()).
		SetResult(out).
		Get(tablePath(table))
	if err := asError(resp, err); err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	return nil
}

func (c *Client) Insert(ctx context.Context, table string, row any, out any) error {
	r := c.req(ctx).SetBody(row)
	if out != nil {
		r.SetHeader("Prefer", "return=representation").SetResult(out)
	} else {
		r.SetHeader("Prefer", "return=minimal")
	}
	resp, err := r.Post(tablePath(table))
	if err := asError(resp, err); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (c *Client) Upsert(ctx context.Context, table string, row any, onConflict string, out any) error {
	prefer := "resolution=merge-duplicates,return=minimal"
	r := c.req(ctx).SetBody(row)
	if out != nil {
		prefer = "resolution=merge-duplicates,return=representation"
		r.SetResult(out)
	}
	if onConflict != "" {
		r.SetQueryParam("on_conflict", onConflict)
	}
	resp, err := r.SetHeader("Prefer", prefer).Post(tablePath(table))
	if err := asError(resp, err); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (c *Client) Update(ctx context.Context, table string, q *core.Query, patch any, out any) error {
	v := q.Values()
	v.Del("select")
	r := c.req(ctx).SetQueryParamsFromValues(v).SetBody(patch)
	if out != nil {
		r.SetHeader("Prefer", "return=representation").SetResult(out)
	}
	resp, err := r.Patch(tablePath(table))
	if err := asError(resp, err); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}
