package domain

import "time"

// Point is a canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PeerState is the last-known ephemeral state of one participant.
// No transport or lifecycle logic here.
type PeerState struct {
	ID        UserID    `json:"userId"`
	Username  string    `json:"username"`
	Online    bool      `json:"online"`
	Cursor    *Point    `json:"cursor,omitempty"`
	OnlineAt  time.Time `json:"online_at,omitzero"`
	UpdatedAt time.Time `json:"-"`
}

// PresenceMeta is what a client tracks on a channel.
type PresenceMeta struct {
	UserID   UserID    `json:"userId"`
	Username string    `json:"username"`
	OnlineAt time.Time `json:"online_at,omitzero"`
}
