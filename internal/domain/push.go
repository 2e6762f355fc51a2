package domain

import "time"

type PushProvider string

const (
	PushExpo   PushProvider = "expo"
	PushNative PushProvider = "native"
)

// PushToken is a row of user_push_tokens.
type PushToken struct {
	UserID    UserID       `json:"user_id"`
	Token     string       `json:"token"`
	Provider  PushProvider `json:"provider"`
	Platform  string       `json:"platform,omitempty"`
	UpdatedAt time.Time    `json:"updated_at,omitzero"`
}
