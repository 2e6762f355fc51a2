package domain

import "time"

// LocationPoint is a row of location_history.
type LocationPoint struct {
	ID         int64     `json:"id,omitempty"`
	UserID     UserID    `json:"user_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	RecordedAt time.Time `json:"recorded_at"`
}

type LocationStats struct {
	Count       int           `json:"count"`
	DistanceKm  float64       `json:"distance_km"`
	AvgAccuracy float64       `json:"avg_accuracy_m"`
	First       time.Time     `json:"first,omitzero"`
	Last        time.Time     `json:"last,omitzero"`
	Duration    time.Duration `json:"duration"`
	AvgSpeedKmh float64       `json:"avg_speed_kmh"`
}
