// Package baas talks to the hosted backend over HTTP: PostgREST style
// tables, GoTrue style auth and TUS resumable storage uploads.
package baas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnauthorized       = errors.New("baas: unauthorized")
	ErrConfirmationNeeded = errors.New("baas: email confirmation required")
	ErrNoProgress         = errors.New("baas: upload offset did not advance")
)

// APIError is a non-2xx answer from any BaaS endpoint.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Err     string `json:"error"`
	Desc    string `json:"error_description"`
}

func (e *APIError) Error() string {
	msg := e.Message
	for _, m := range []string{e.Msg, e.Desc, e.Err} {
		if msg == "" {
			msg = m
		}
	}
	if msg == "" {
		msg = "request failed"
	}
	if e.Code != "" {
		return fmt.Sprintf("baas %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("baas %d: %s", e.Status, msg)
}

func (e *APIError) Unwrap() error {
	if e.Status == 401 {
		return ErrUnauthorized
	}
	return nil
}

type Options struct {
	URL         string
	AnonKey     string
	Timeout     time.Duration
	ChunkSize   int64
	RetryDelays []time.Duration
	// OnProgress reports uploaded bytes.
	OnProgress func(object string, sent, total int64)
}

type Client struct {
	http    *resty.Client
	baseURL string
	anonKey string
	opts    Options
	sleep   func(context.Context, time.Duration) error

	mu    sync.RWMutex
	token string
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 6 * 1024 * 1024
	}
	if opts.RetryDelays == nil {
		opts.RetryDelays = []time.Duration{0, 3 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}
	}
	base := strings.TrimRight(opts.URL, "/")
	h := resty.New().
		SetBaseURL(base).
		SetTimeout(opts.Timeout).
		SetHeader("apikey", opts.AnonKey)
	log.Info().Str("module", "adapters.baas").Str("url", base).Msg("client ready")
	return &Client{
		http:    h,
		baseURL: base,
		anonKey: opts.AnonKey,
		opts:    opts,
		sleep:   sleepCtx,
	}
}

// SetAccessToken switches requests from the anon key to a user JWT. Empty resets.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" {
		return c.token
	}
	return c.anonKey
}

func (c *Client) req(ctx context.Context) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetAuthToken(c.bearer()).
		SetError(&APIError{})
}

func asError(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.Status = resp.StatusCode()
	if apiErr.Message == "" && apiErr.Msg == "" && apiErr.Err == "" && apiErr.Desc == "" {
		apiErr.Message = strings.TrimSpace(string(resp.Body()))
	}
	return apiErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
