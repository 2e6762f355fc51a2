// Package location reads location history and derives travel stats.
package location

import (
	"math"

	"github.com/dkeye/Beacon/internal/domain"
)

const EarthRadiusKm = 6371.0

func rad(deg float64) float64 { return deg * math.Pi / 180 }

// Haversine returns the great-circle distance in km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Compute expects points ordered by recorded_at.
// Accuracy is averaged over points that report one.
func Compute(points []domain.LocationPoint) domain.LocationStats {
	st := domain.LocationStats{Count: len(points)}
	if len(points) == 0 {
		return st
	}
	var accSum float64
	var accN int
	for i, p := range points {
		if i > 0 {
			prev := points[i-1]
			st.DistanceKm += Haversine(prev.Latitude, prev.Longitude, p.Latitude, p.Longitude)
		}
		if p.Accuracy > 0 {
			accSum += p.Accuracy
			accN++
		}
	}
	if accN > 0 {
		st.AvgAccuracy = accSum / float64(accN)
	}
	st.First = points[0].RecordedAt
	st.Last = points[len(points)-1].RecordedAt
	st.Duration = st.Last.Sub(st.First)
	if h := st.Duration.Hours(); h > 0 {
		st.AvgSpeedKmh = st.DistanceKm / h
	}
	return st
}
