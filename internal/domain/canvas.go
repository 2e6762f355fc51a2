package domain

type PathID string

// Path is broadcast once complete and never mutated after.
type Path struct {
	ID          PathID  `json:"id"`
	UserID      UserID  `json:"userId"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
	Points      []Point `json:"points"`
}

// CursorPos is the cursor-pos broadcast payload.
type CursorPos struct {
	UserID   UserID  `json:"userId"`
	Username string  `json:"username"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}
