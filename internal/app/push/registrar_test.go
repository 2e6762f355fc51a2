package push

import (
	"context"
	"testing"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/core/coretest"
	"github.com/dkeye/Beacon/internal/domain"
)

type prompter struct{ grant bool }

func (p prompter) Request(context.Context, core.Permission) (bool, error) { return p.grant, nil }

func TestValidToken(t *testing.T) {
	cases := []struct {
		provider domain.PushProvider
		token    string
		want     bool
	}{
		{domain.PushExpo, "ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]", true},
		{domain.PushExpo, "ExpoPushToken[abc]", true},
		{domain.PushExpo, "ExponentPushToken[]", false},
		{domain.PushExpo, "fcm-token", false},
		{domain.PushNative, "f3a9c1d2e4b5a6c7d8e9", true},
		{domain.PushNative, "short", false},
		{"carrier-pigeon", "ExpoPushToken[abc]", false},
	}
	for _, c := range cases {
		if got := ValidToken(c.provider, c.token); got != c.want {
			t.Errorf("ValidToken(%s, %q) = %v, want %v", c.provider, c.token, got, c.want)
		}
	}
}

func TestRegisterUpsertsOnToken(t *testing.T) {
	tables := coretest.NewTables()
	r := NewRegistrar(tables, prompter{grant: true}, alert.NewSink())
	ctx := context.Background()
	tok := "ExponentPushToken[abc123]"

	if _, err := r.Register(ctx, "u1", tok, domain.PushExpo, "ios"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(ctx, "u2", tok, domain.PushExpo, "ios"); err != nil {
		t.Fatal(err)
	}
	rows := tables.Rows("user_push_tokens")
	if len(rows) != 1 || rows[0]["user_id"] != "u2" {
		t.Fatalf("token must move to the latest user, rows=%v", rows)
	}
}

func TestRegisterPermissionDenied(t *testing.T) {
	tables := coretest.NewTables()
	r := NewRegistrar(tables, prompter{grant: false}, alert.NewSink())
	_, err := r.Register(context.Background(), "u1", "ExpoPushToken[abc]", domain.PushExpo, "android")
	if alert.KindOf(err) != alert.PermissionDenied {
		t.Fatalf("expected permission_denied, got %v", err)
	}
	if len(tables.Calls()) != 0 {
		t.Fatalf("no table call expected after denial")
	}
}
