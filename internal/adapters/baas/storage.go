package baas

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/rs/zerolog/log"
)

const (
	tusVersion      = "1.0.0"
	resumablePath   = "/storage/v1/upload/resumable"
	publicPathFmt   = "/storage/v1/object/public/%s/%s"
	offsetMediaType = "application/offset+octet-stream"
)

var _ core.ObjectStorage = (*Client)(nil)

// PublicURL builds the public object URL; each path segment is escaped.
func (c *Client) PublicURL(bucket, object string) string {
	segs := strings.Split(object, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return c.baseURL + fmt.Sprintf(publicPathFmt, url.PathEscape(bucket), strings.Join(segs, "/"))
}

func tusMetadata(pairs ...string) string {
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, pairs[i]+" "+base64.StdEncoding.EncodeToString([]byte(pairs[i+1])))
	}
	return strings.Join(parts, ",")
}

// retryable mirrors the TUS client rule: transport errors and 5xx retry,
// 4xx do not except conflict, locked and too-many-requests.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch apiErr.Status {
	case http.StatusConflict, http.StatusLocked, http.StatusTooManyRequests:
		return true
	}
	return apiErr.Status < 400 || apiErr.Status >= 500
}

// Upload sends body with the TUS resumable protocol. A failed request, or a
// PATCH that does not move the offset, waits for the next configured delay,
// asks the server for its offset and resumes from there. Progress resets the
// retry budget.
func (c *Client) Upload(ctx context.Context, bucket, object string, body io.ReadSeeker, size int64, contentType string) error {
	l := log.With().Str("module", "adapters.baas").Str("bucket", bucket).Str("object", object).Logger()

	var location string
	attempt := 0
	for {
		loc, err := c.tusCreate(ctx, bucket, object, size, contentType)
		if err == nil {
			location = loc
			break
		}
		if err := c.backoff(ctx, &attempt, err); err != nil {
			return fmt.Errorf("upload create %s/%s: %w", bucket, object, err)
		}
		l.Warn().Err(err).Int("attempt", attempt).Msg("create failed, retrying")
	}

	var offset int64
	buf := make([]byte, c.opts.ChunkSize)
	for offset < size {
		n := min(c.opts.ChunkSize, size-offset)
		next, err := c.tusPatch(ctx, location, body, offset, buf[:n])
		if err == nil && next > size {
			return fmt.Errorf("upload %s/%s: server offset %d past size %d", bucket, object, next, size)
		}
		if err == nil && next <= offset {
			err = ErrNoProgress
		}
		if err == nil {
			offset = next
			attempt = 0
			if c.opts.OnProgress != nil {
				c.opts.OnProgress(object, offset, size)
			}
			continue
		}
		if err := c.backoff(ctx, &attempt, err); err != nil {
			return fmt.Errorf("upload %s/%s at %d: %w", bucket, object, offset, err)
		}
		l.Warn().Err(err).Int("attempt", attempt).Int64("offset", offset).Msg("chunk failed, resuming")
		if head, herr := c.tusHead(ctx, location); herr == nil && head <= size {
			offset = head
		} else {
			l.Warn().Err(herr).Msg("offset check failed")
		}
	}
	l.Info().Int64("size", size).Msg("upload complete")
	return nil
}

// backoff sleeps for the next retry delay or returns err when the budget is spent.
func (c *Client) backoff(ctx context.Context, attempt *int, err error) error {
	if !retryable(err) || *attempt >= len(c.opts.RetryDelays) {
		return err
	}
	d := c.opts.RetryDelays[*attempt]
	*attempt++
	if serr := c.sleep(ctx, d); serr != nil {
		return serr
	}
	return nil
}

func (c *Client) tusCreate(ctx context.Context, bucket, object string, size int64, contentType string) (string, error) {
	resp, err := c.req(ctx).
		SetHeader("Tus-Resumable", tusVersion).
		SetHeader("Upload-Length", strconv.FormatInt(size, 10)).
		SetHeader("Upload-Metadata", tusMetadata(
			"bucketName", bucket,
			"objectName", object,
			"contentType", contentType,
			"cacheControl", "3600",
		)).
		SetHeader("x-upsert", "false").
		Post(resumablePath)
	if err := asError(resp, err); err != nil {
		return "", err
	}
	loc := resp.Header().Get("Location")
	if loc == "" {
		return "", &APIError{Status: resp.StatusCode(), Message: "missing Location header"}
	}
	return c.resolve(loc), nil
}

func (c *Client) resolve(loc string) string {
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		return loc
	}
	if !strings.HasPrefix(loc, "/") {
		loc = resumablePath + "/" + loc
	}
	return c.baseURL + loc
}

func (c *Client) tusPatch(ctx context.Context, location string, body io.ReadSeeker, offset int64, buf []byte) (int64, error) {
	if _, err := body.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek: %w", err)
	}
	if _, err := io.ReadFull(body, buf); err != nil {
		return 0, fmt.Errorf("read chunk: %w", err)
	}
	resp, err := c.req(ctx).
		SetHeader("Tus-Resumable", tusVersion).
		SetHeader("Upload-Offset", strconv.FormatInt(offset, 10)).
		SetHeader("Content-Type", offsetMediaType).
		SetBody(bytes.NewReader(buf)).
		Patch(location)
	if err := asError(resp, err); err != nil {
		return 0, err
	}
	return parseOffset(resp.Header().Get("Upload-Offset"), offset+int64(len(buf)))
}

func (c *Client) tusHead(ctx context.Context, location string) (int64, error) {
	resp, err := c.req(ctx).
		SetHeader("Tus-Resumable", tusVersion).
		Head(location)
	if err := asError(resp, err); err != nil {
		return 0, err
	}
	return parseOffset(resp.Header().Get("Upload-Offset"), -1)
}

func parseOffset(h string, fallback int64) (int64, error) {
	if h == "" {
		if fallback < 0 {
			return 0, errors.New("missing Upload-Offset")
		}
		return fallback, nil
	}
	n, err := strconv.ParseInt(h, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad Upload-Offset %q: %w", h, err)
	}
	return n, nil
}
