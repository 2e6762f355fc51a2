package domain

import "time"

type MessageID string

// Message is immutable once inserted.
type Message struct {
	ID        MessageID `json:"id,omitempty"`
	SenderID  UserID    `json:"sender_id"`
	GroupID   GroupID   `json:"group_id"`
	Content   string    `json:"content"`
	MediaURL  string    `json:"media_url,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func (m *Message) HasMedia() bool { return m.MediaURL != "" }
