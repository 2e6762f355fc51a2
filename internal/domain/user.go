// Package domain holds the rows and payloads exchanged with the backend.
package domain

import (
	"errors"
	"strings"
)

// MaxUsernameLen matches the profiles.username column.
const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

type User struct {
	ID       UserID `json:"id" db:"id"`
	Email    string `json:"email,omitempty" db:"email"`
	Username string `json:"username" db:"username"`
}

// NewUser validates username; id may be empty before sign-up completes.
func NewUser(id UserID, username string) (*User, error) {
	u := &User{ID: id}
	if err := u.SetUsername(username); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) SetUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}

// DisplayName falls back to the e-mail local part when no username is set.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	if at := strings.IndexByte(u.Email, '@'); at > 0 {
		return u.Email[:at]
	}
	return string(u.ID)
}
