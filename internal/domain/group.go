package domain

import "fmt"

type GroupID string

type Group struct {
	ID   GroupID `json:"id" db:"id"`
	Name string  `json:"name" db:"name"`
}

// UserGroup is a row of user_groups.
type UserGroup struct {
	UserID    UserID  `json:"user_id"`
	GroupID   GroupID `json:"group_id"`
	GroupName string  `json:"group_name,omitempty"`
}

type Customer struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	AreaID  int64  `json:"area_id,omitempty"`
}

// CustomerGroup is a row of customer_groups.
type CustomerGroup struct {
	CustomerID int64   `json:"customer_id"`
	GroupID    GroupID `json:"group_id"`
}

// Area is a row of area_master.
type Area struct {
	ID   int64  `json:"id"`
	Name string `json:"area_name"`
}

// Realtime topic names, one per feature.
const (
	CanvasTopic = "global-collaboration-canvas"
	CursorTopic = "cursor-channel"
)

func ChatTopic(id GroupID) string { return fmt.Sprintf("group-%s", id) }
func CallTopic(id GroupID) string { return fmt.Sprintf("webrtc-group-%s", id) }
