package baas

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Beacon/internal/domain"
)

type authUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
	User         *authUser `json:"user"`
	// signup without auto-confirm answers with the bare user
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (t *tokenResponse) session(now time.Time) (*domain.Session, error) {
	if t.AccessToken == "" {
		return nil, ErrConfirmationNeeded
	}
	s := &domain.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(t.ExpiresIn) * time.Second),
	}
	if t.ExpiresAt > 0 {
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	}
	if t.User != nil {
		s.User = domain.User{ID: domain.UserID(t.User.ID), Email: t.User.Email}
		if name, ok := t.User.UserMetadata["username"].(string); ok {
			s.User.Username = name
		}
	}
	return s, nil
}

func (c *Client) exchange(ctx context.Context, grant string, body any) (*domain.Session, error) {
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&APIError{}).
		SetQueryParam("grant_type", grant).
		SetBody(body).
		SetResult(&out).
		Post("/auth/v1/token")
	if err := asError(resp, err); err != nil {
		return nil, fmt.Errorf("auth %s: %w", grant, err)
	}
	return out.session(time.Now())
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	return c.exchange(ctx, "password", map[string]string{"email": email, "password": password})
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	return c.exchange(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) SignUp(ctx context.Context, email, password, username string) (*domain.Session, error) {
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&APIError{}).
		SetBody(map[string]any{
			"email":    email,
			"password": password,
			"data":     map[string]string{"username": username},
		}).
		SetResult(&out).
		Post("/auth/v1/signup")
	if err := asError(resp, err); err != nil {
		return nil, fmt.Errorf("auth signup: %w", err)
	}
	return out.session(time.Now())
}

// SignOut revokes the refresh tokens of the session owning accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&APIError{}).
		SetAuthToken(accessToken).
		Post("/auth/v1/logout")
	if err := asError(resp, err); err != nil {
		return fmt.Errorf("auth logout: %w", err)
	}
	return nil
}
