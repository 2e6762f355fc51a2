// Package media validates, uploads and references user assets.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	ChatBucket    = "chat_media"
	ProfileBucket = "locationtracker"

	DefaultMaxBytes = 50 * 1024 * 1024
)

var ErrTooLarge = errors.New("file too large")

// Asset is an uploaded object.
type Asset struct {
	Bucket    string
	Object    string
	URL       string
	MediaType string
	Size      int64
}

type Pipeline struct {
	storage  core.ObjectStorage
	tables   core.TableClient
	alerts   *alert.Sink
	maxBytes int64
	now      func() time.Time
}

func NewPipeline(storage core.ObjectStorage, tables core.TableClient, alerts *alert.Sink, maxBytes int64) *Pipeline {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Pipeline{storage: storage, tables: tables, alerts: alerts, maxBytes: maxBytes, now: time.Now}
}

func (p *Pipeline) MaxBytes() int64 { return p.maxBytes }

// Check rejects oversized assets; nothing touches the network before it passes.
func (p *Pipeline) Check(size int64) error {
	if size > p.maxBytes {
		return &alert.Error{
			Kind: alert.TooLarge,
			Op:   "media.check",
			Msg:  fmt.Sprintf("File is too large. Maximum size is %d MB.", p.maxBytes/(1024*1024)),
			Err:  ErrTooLarge,
		}
	}
	if size <= 0 {
		return alert.Newf(alert.Upload, "media.check", "file is empty")
	}
	return nil
}

// Upload stores body under prefix/uuid.ext in bucket.
func (p *Pipeline) Upload(ctx context.Context, bucket, prefix, name string, body io.ReadSeeker, size int64) (*Asset, error) {
	if err := p.Check(size); err != nil {
		return nil, p.alerts.Raise(err)
	}

	mt, err := mimetype.DetectReader(body)
	if err != nil {
		return nil, p.alerts.Raise(alert.New(alert.Upload, "media.detect", err))
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return nil, p.alerts.Raise(alert.New(alert.Upload, "media.rewind", err))
	}

	ext := mt.Extension()
	if ext == "" {
		ext = strings.ToLower(path.Ext(name))
	}
	object := uuid.NewString() + ext
	if prefix != "" {
		object = strings.Trim(prefix, "/") + "/" + object
	}
	contentType := mt.String()
	if i := strings.IndexByte(contentType, ';'); i > 0 {
		contentType = contentType[:i]
	}

	log.Info().Str("module", "app.media").Str("bucket", bucket).Str("object", object).Str("type", contentType).Int64("size", size).Msg("uploading")
	if err := p.storage.Upload(ctx, bucket, object, body, size, contentType); err != nil {
		return nil, p.alerts.Raise(alert.New(alert.Upload, "media.upload", err))
	}
	return &Asset{
		Bucket:    bucket,
		Object:    object,
		URL:       p.storage.PublicURL(bucket, object),
		MediaType: contentType,
		Size:      size,
	}, nil
}

// SendToGroup uploads an asset to the chat bucket and inserts the message
// that references it. A failed upload creates no message.
func (p *Pipeline) SendToGroup(ctx context.Context, group domain.GroupID, sender domain.UserID, name string, body io.ReadSeeker, size int64, caption string) (*domain.Message, error) {
	asset, err := p.Upload(ctx, ChatBucket, string(group), name, body, size)
	if err != nil {
		return nil, err
	}
	msg := &domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		SenderID:  sender,
		GroupID:   group,
		Content:   caption,
		MediaURL:  asset.URL,
		MediaType: asset.MediaType,
		CreatedAt: p.now().UTC(),
	}
	if err := p.tables.Insert(ctx, "messages", msg, nil); err != nil {
		return nil, p.alerts.Raise(alert.New(alert.Network, "media.message", err))
	}
	return msg, nil
}
