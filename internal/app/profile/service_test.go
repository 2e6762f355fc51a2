package profile

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/app/media"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/core/coretest"
	"github.com/dkeye/Beacon/internal/domain"
)

func newService() (*Service, *coretest.Tables, *coretest.Storage) {
	tables, storage := coretest.NewTables(), coretest.NewStorage()
	sink := alert.NewSink()
	tables.Seed("profiles", domain.Profile{ID: "u1", Username: "ann"})
	return NewService(tables, media.NewPipeline(storage, tables, sink, 0), sink), tables, storage
}

func TestGetAndUpdate(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	p, err := svc.Get(ctx, "u1")
	if err != nil || p.Username != "ann" {
		t.Fatalf("get: %v %+v", err, p)
	}
	if _, err := svc.Get(ctx, "nobody"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	name, full := "  annie ", "Ann Example"
	p, err = svc.Update(ctx, "u1", Update{Username: &name, FullName: &full})
	if err != nil {
		t.Fatal(err)
	}
	if p.Username != "annie" || p.FullName != "Ann Example" {
		t.Fatalf("unexpected profile %+v", p)
	}

	long := strings.Repeat("x", domain.MaxUsernameLen+1)
	if _, err := svc.Update(ctx, "u1", Update{Username: &long}); !errors.Is(err, domain.ErrUsernameTooLong) {
		t.Fatalf("expected too long, got %v", err)
	}
}

func TestUploadAvatar(t *testing.T) {
	svc, _, storage := newService()
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	p, err := svc.UploadAvatar(context.Background(), "u1", "me.jpg", bytes.NewReader(jpeg), int64(len(jpeg)))
	if err != nil {
		t.Fatal(err)
	}
	objs := storage.Objects()
	if len(objs) != 1 || !strings.HasPrefix(objs[0], "locationtracker/avatars/u1/") {
		t.Fatalf("unexpected objects %v", objs)
	}
	if !strings.HasSuffix(p.AvatarURL, ".jpg") {
		t.Fatalf("avatar url %q", p.AvatarURL)
	}
}
