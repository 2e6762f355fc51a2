package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Beacon/internal/adapters/localstore"
	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/domain"
)

type fakeAPI struct {
	mu        sync.Mutex
	refreshes int
	signouts  int
	valid     map[string]bool
}

func newFakeAPI() *fakeAPI { return &fakeAPI{valid: map[string]bool{}} }

func (f *fakeAPI) issue(n int) *domain.Session {
	tok := "r" + time.Now().Format("150405.000000000") + string(rune('a'+n))
	f.valid[tok] = true
	return &domain.Session{
		AccessToken:  "a-" + tok,
		RefreshToken: tok,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         domain.User{ID: "u1", Email: "ann@example.com"},
	}
}

func (f *fakeAPI) SignInWithPassword(_ context.Context, email, password string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if password != "secret" {
		return nil, errors.New("invalid login credentials")
	}
	return f.issue(0), nil
}

func (f *fakeAPI) SignUp(_ context.Context, email, password, username string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issue(1), nil
}

func (f *fakeAPI) RefreshSession(_ context.Context, rt string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.valid[rt] {
		return nil, errors.New("invalid refresh token")
	}
	delete(f.valid, rt)
	f.refreshes++
	return f.issue(2), nil
}

func (f *fakeAPI) SignOut(context.Context, string) error {
	f.mu.Lock()
	f.signouts++
	f.mu.Unlock()
	return nil
}

type fakeGate struct {
	available bool
	pass      bool
	asked     int
}

func (g *fakeGate) Available(context.Context) bool { return g.available }

func (g *fakeGate) Authenticate(context.Context, string) error {
	g.asked++
	if !g.pass {
		return errors.New("user cancelled")
	}
	return nil
}

func openStore(t *testing.T, path string) *localstore.Store {
	t.Helper()
	s, err := localstore.Open(context.Background(), path, "test-secret-0123456789")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoginThenRestoreWithBiometrics(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "beacon.db")
	api := newFakeAPI()
	gate := &fakeGate{available: true, pass: true}

	first := NewManager(api, openStore(t, path), gate, alert.NewSink(), 0)
	if _, err := first.SignIn(ctx, "ann@example.com", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := first.SetBiometrics(ctx, true); err != nil {
		t.Fatalf("enable biometrics: %v", err)
	}

	// a fresh process: new manager, store reopened from disk
	var tokens []string
	second := NewManager(api, openStore(t, path), gate, alert.NewSink(), 0)
	second.OnToken(func(tok string) { tokens = append(tokens, tok) })
	s, err := second.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if s.User.ID != "u1" || s.AccessToken == "" {
		t.Fatalf("unexpected session %+v", s)
	}
	if gate.asked != 2 {
		t.Fatalf("biometric gate should be asked on enable and restore, got %d", gate.asked)
	}
	if len(tokens) != 1 || tokens[0] != s.AccessToken {
		t.Fatalf("token sinks not fed: %v", tokens)
	}

	// the rotated refresh token was persisted, so a third start also works
	third := NewManager(api, openStore(t, path), gate, alert.NewSink(), 0)
	if _, err := third.Restore(ctx); err != nil {
		t.Fatalf("second restore: %v", err)
	}
}

func TestRestoreBiometricFailure(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "beacon.db")
	api := newFakeAPI()
	gate := &fakeGate{available: true, pass: true}

	m := NewManager(api, openStore(t, path), gate, alert.NewSink(), 0)
	if _, err := m.SignIn(ctx, "ann@example.com", "secret"); err != nil {
		t.Fatal(err)
	}
	if err := m.SetBiometrics(ctx, true); err != nil {
		t.Fatal(err)
	}

	gate.pass = false
	again := NewManager(api, openStore(t, path), gate, alert.NewSink(), 0)
	_, err := again.Restore(ctx)
	if !errors.Is(err, ErrBiometricFailed) {
		t.Fatalf("expected biometric failure, got %v", err)
	}
	if _, err := again.Current(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("no session may be live after a failed check")
	}
	if api.refreshes != 0 {
		t.Fatalf("refresh token must not be used before the gate passes")
	}
}

func TestSignInFailureAndSignOut(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	m := NewManager(api, openStore(t, filepath.Join(t.TempDir(), "b.db")), nil, alert.NewSink(), 0)

	if _, err := m.SignIn(ctx, "ann@example.com", "nope"); alert.KindOf(err) != alert.Auth {
		t.Fatalf("expected auth alert, got %v", err)
	}
	if _, err := m.SignIn(ctx, "ann@example.com", "secret"); err != nil {
		t.Fatal(err)
	}
	if err := m.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if api.signouts != 1 {
		t.Fatalf("remote sign out not called")
	}
	if _, err := m.Restore(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("persisted session must be cleared, got %v", err)
	}
}

func TestEnableBiometricsNeedsHardware(t *testing.T) {
	m := NewManager(newFakeAPI(), openStore(t, filepath.Join(t.TempDir(), "b.db")), &fakeGate{}, alert.NewSink(), 0)
	if err := m.SetBiometrics(context.Background(), true); alert.KindOf(err) != alert.PermissionDenied {
		t.Fatalf("expected permission_denied, got %v", err)
	}
}

func TestAutoRefreshBeforeExpiry(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	m := NewManager(api, openStore(t, filepath.Join(t.TempDir(), "b.db")), nil, alert.NewSink(), time.Minute)

	var once sync.Once
	fired := make(chan time.Duration, 1)
	m.after = func(d time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		once.Do(func() {
			fired <- d
			ch <- time.Now()
		})
		return ch
	}
	got := make(chan string, 4)
	m.OnToken(func(tok string) { got <- tok })

	first, err := m.SignIn(ctx, "ann@example.com", "secret")
	if err != nil {
		t.Fatal(err)
	}
	<-got
	select {
	case d := <-fired:
		if d > time.Hour-time.Minute || d < time.Hour-2*time.Minute {
			t.Fatalf("refresh scheduled %v ahead, want about 59m", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("refresh never scheduled")
	}
	select {
	case tok := <-got:
		if tok == first.AccessToken {
			t.Fatalf("token did not change")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("auto refresh did not run")
	}
	_ = m.SignOut(ctx)
}

// heldRefresh blocks RefreshSession until released.
type heldRefresh struct {
	*fakeAPI
	entered chan struct{}
	release chan struct{}
}

func (h *heldRefresh) RefreshSession(ctx context.Context, rt string) (*domain.Session, error) {
	close(h.entered)
	<-h.release
	return h.fakeAPI.RefreshSession(ctx, rt)
}

func TestRefreshFinishingAfterSignOutIsDiscarded(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "b.db")
	api := newFakeAPI()
	held := &heldRefresh{fakeAPI: api, entered: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(held, openStore(t, path), nil, alert.NewSink(), 0)
	if _, err := m.SignIn(ctx, "ann@example.com", "secret"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.Refresh(ctx)
		done <- err
	}()
	<-held.entered
	if err := m.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	close(held.release)

	if err := <-done; !errors.Is(err, ErrNoSession) {
		t.Fatalf("late refresh should be discarded, got %v", err)
	}
	if _, err := m.Current(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("signed-out session came back")
	}
	fresh := NewManager(api, openStore(t, path), nil, alert.NewSink(), 0)
	if _, err := fresh.Restore(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("refresh token re-saved after sign out: %v", err)
	}
}
