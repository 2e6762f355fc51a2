package localstore

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dkeye/Beacon/internal/core"
)

func openTestStore(t *testing.T, path, secret string) *Store {
	t.Helper()
	s, err := Open(context.Background(), path, secret)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundTripAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "beacon.db")

	s := openTestStore(t, path, "a-long-enough-secret")
	if _, err := s.LoadSession(ctx); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.SaveSession(ctx, core.StoredSession{UserID: "u1", Email: "ann@example.com", RefreshToken: "r1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSession(ctx, core.StoredSession{UserID: "u1", Email: "ann@example.com", RefreshToken: "r2"}); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s2 := openTestStore(t, path, "a-long-enough-secret")
	got, err := s2.LoadSession(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.RefreshToken != "r2" || got.UserID != "u1" {
		t.Fatalf("unexpected session %+v", got)
	}

	var raw []byte
	if err := s2.db.GetContext(ctx, &raw, `SELECT refresh_token FROM session`); err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("r2")) {
		t.Fatalf("refresh token stored in clear")
	}

	if err := s2.ClearSession(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s2.LoadSession(ctx); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found after clear, got %v", err)
	}
}

func TestWrongSecretCannotDecrypt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "beacon.db")
	s := openTestStore(t, path, "secret-one-0123456")
	if err := s.SaveSession(ctx, core.StoredSession{UserID: "u1", RefreshToken: "r1"}); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	other := openTestStore(t, path, "secret-two-0123456")
	if _, err := other.LoadSession(ctx); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected decrypt error, got %v", err)
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "beacon.db"), "a-long-enough-secret")
	if _, err := s.Setting(ctx, core.SettingBiometrics); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	for _, v := range []string{"true", "false"} {
		if err := s.SetSetting(ctx, core.SettingBiometrics, v); err != nil {
			t.Fatal(err)
		}
		got, err := s.Setting(ctx, core.SettingBiometrics)
		if err != nil || got != v {
			t.Fatalf("setting = %q, %v; want %q", got, err, v)
		}
	}
}
