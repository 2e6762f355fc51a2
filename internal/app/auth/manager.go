// Package auth owns the live session: sign in/up/out, persistence of the
// refresh token, biometric-gated restore and refresh ahead of expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSession            = errors.New("no session")
	ErrBiometricFailed      = errors.New("biometric check failed")
	ErrBiometricUnavailable = errors.New("biometrics unavailable")
)

// API is the remote auth service.
type API interface {
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	SignUp(ctx context.Context, email, password, username string) (*domain.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// TokenSink receives every new access token; empty means signed out.
type TokenSink func(accessToken string)

type Manager struct {
	api    API
	store  core.SessionStore
	gate   core.BiometricGate
	alerts *alert.Sink
	margin time.Duration

	// commit orders adopt against SignOut so a late refresh cannot
	// bring a signed-out session back.
	commit sync.Mutex

	mu      sync.RWMutex
	epoch   uint64
	current *domain.Session
	sinks   []TokenSink
	stop    context.CancelFunc
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
}

func NewManager(api API, store core.SessionStore, gate core.BiometricGate, alerts *alert.Sink, margin time.Duration) *Manager {
	if margin <= 0 {
		margin = time.Minute
	}
	return &Manager{
		api:    api,
		store:  store,
		gate:   gate,
		alerts: alerts,
		margin: margin,
		now:    time.Now,
		after:  time.After,
	}
}

// OnToken registers a sink and feeds it the current token if any.
func (m *Manager) OnToken(fn TokenSink) {
	m.mu.Lock()
	m.sinks = append(m.sinks, fn)
	cur := m.current
	m.mu.Unlock()
	if cur != nil {
		fn(cur.AccessToken)
	}
}

// Current returns a copy of the live session.
func (m *Manager) Current() (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	s := *m.current
	return &s, nil
}

// epochNow identifies the sign-out period a request started in.
func (m *Manager) epochNow() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

func (m *Manager) User() (domain.User, error) {
	s, err := m.Current()
	if err != nil {
		return domain.User{}, err
	}
	return s.User, nil
}

func (m *Manager) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, m.alerts.Raise(alert.Newf(alert.Auth, "auth.signin", "email and password are required"))
	}
	epoch := m.epochNow()
	s, err := m.api.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, m.alerts.Raise(alert.New(alert.Auth, "auth.signin", err))
	}
	if err := m.adopt(ctx, s, epoch); err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.auth").Str("user", string(s.User.ID)).Msg("signed in")
	return s, nil
}

func (m *Manager) SignUp(ctx context.Context, email, password, username string) (*domain.Session, error) {
	if _, err := domain.NewUser("", username); err != nil {
		return nil, m.alerts.Raise(alert.New(alert.Auth, "auth.signup", err))
	}
	epoch := m.epochNow()
	s, err := m.api.SignUp(ctx, strings.TrimSpace(email), password, strings.TrimSpace(username))
	if err != nil {
		return nil, m.alerts.Raise(alert.New(alert.Auth, "auth.signup", err))
	}
	if err := m.adopt(ctx, s, epoch); err != nil {
		return nil, err
	}
	return s, nil
}

// Restore brings back a persisted session without credentials. When
// biometrics are enabled the gate must pass before the token is used.
func (m *Manager) Restore(ctx context.Context) (*domain.Session, error) {
	epoch := m.epochNow()
	stored, err := m.store.LoadSession(ctx)
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, m.alerts.Raise(alert.New(alert.Auth, "auth.restore", err))
	}

	if m.BiometricsEnabled(ctx) {
		if m.gate == nil || !m.gate.Available(ctx) {
			return nil, m.alerts.Raise(alert.New(alert.PermissionDenied, "auth.restore", ErrBiometricUnavailable))
		}
		if err := m.gate.Authenticate(ctx, "Unlock Beacon"); err != nil {
			return nil, m.alerts.Raise(&alert.Error{Kind: alert.Auth, Op: "auth.restore", Msg: "biometric check failed", Err: fmt.Errorf("%w: %w", ErrBiometricFailed, err)})
		}
	}

	s, err := m.api.RefreshSession(ctx, stored.RefreshToken)
	if err != nil {
		return nil, m.alerts.Raise(alert.New(alert.Auth, "auth.restore", err))
	}
	if err := m.adopt(ctx, s, epoch); err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.auth").Str("user", string(s.User.ID)).Msg("session restored")
	return s, nil
}

func (m *Manager) Refresh(ctx context.Context) (*domain.Session, error) {
	epoch := m.epochNow()
	cur, err := m.Current()
	if err != nil {
		return nil, err
	}
	s, err := m.api.RefreshSession(ctx, cur.RefreshToken)
	if err != nil {
		return nil, m.alerts.Raise(alert.New(alert.Auth, "auth.refresh", err))
	}
	if s.User.ID == "" {
		s.User = cur.User
	}
	if err := m.adopt(ctx, s, epoch); err != nil {
		return nil, err
	}
	return s, nil
}

// SignOut revokes remotely on a best-effort basis and always clears local state.
func (m *Manager) SignOut(ctx context.Context) error {
	m.commit.Lock()
	defer m.commit.Unlock()

	m.mu.Lock()
	m.epoch++
	cur := m.current
	m.current = nil
	stop := m.stop
	m.stop = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}

	if cur != nil {
		if err := m.api.SignOut(ctx, cur.AccessToken); err != nil {
			log.Warn().Err(err).Str("module", "app.auth").Msg("remote sign out failed")
		}
	}
	m.notify("")
	if err := m.store.ClearSession(ctx); err != nil {
		return m.alerts.Raise(alert.New(alert.Internal, "auth.signout", err))
	}
	log.Info().Str("module", "app.auth").Msg("signed out")
	return nil
}

func (m *Manager) BiometricsEnabled(ctx context.Context) bool {
	v, err := m.store.Setting(ctx, core.SettingBiometrics)
	return err == nil && v == "true"
}

// SetBiometrics turns the restore gate on or off. Enabling requires a passing check.
func (m *Manager) SetBiometrics(ctx context.Context, enabled bool) error {
	if enabled {
		if m.gate == nil || !m.gate.Available(ctx) {
			return m.alerts.Raise(alert.New(alert.PermissionDenied, "auth.biometrics", ErrBiometricUnavailable))
		}
		if err := m.gate.Authenticate(ctx, "Enable biometric unlock"); err != nil {
			return m.alerts.Raise(alert.New(alert.Auth, "auth.biometrics", fmt.Errorf("%w: %w", ErrBiometricFailed, err)))
		}
	}
	return m.store.SetSetting(ctx, core.SettingBiometrics, fmt.Sprint(enabled))
}

// adopt makes s current, persists its refresh token and schedules the next
// refresh. A sign-out since epoch discards s.
func (m *Manager) adopt(ctx context.Context, s *domain.Session, epoch uint64) error {
	m.commit.Lock()
	defer m.commit.Unlock()
	if m.epochNow() != epoch {
		log.Info().Str("module", "app.auth").Str("user", string(s.User.ID)).Msg("session discarded, signed out meanwhile")
		return ErrNoSession
	}

	if err := m.store.SaveSession(ctx, core.StoredSession{
		UserID:       string(s.User.ID),
		Email:        s.User.Email,
		RefreshToken: s.RefreshToken,
		SavedAt:      m.now(),
	}); err != nil {
		return m.alerts.Raise(alert.New(alert.Internal, "auth.persist", err))
	}

	refreshCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.current = s
	prev := m.stop
	m.stop = cancel
	m.mu.Unlock()
	if prev != nil {
		prev()
	}
	m.notify(s.AccessToken)
	go m.autoRefresh(refreshCtx, s.ExpiresAt)
	return nil
}

func (m *Manager) notify(token string) {
	m.mu.RLock()
	sinks := append([]TokenSink{}, m.sinks...)
	m.mu.RUnlock()
	for _, fn := range sinks {
		fn(token)
	}
}

const refreshRetry = 30 * time.Second

func (m *Manager) autoRefresh(ctx context.Context, expiresAt time.Time) {
	wait := expiresAt.Sub(m.now()) - m.margin
	for {
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-m.after(wait):
		}
		if ctx.Err() != nil {
			return
		}
		// Success adopts a new session, which cancels ctx and starts a fresh loop.
		if _, err := m.Refresh(ctx); err != nil {
			if errors.Is(err, ErrNoSession) || ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("module", "app.auth").Msg("auto refresh failed")
			wait = refreshRetry
			continue
		}
		return
	}
}
