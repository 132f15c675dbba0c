// Package geo estimates trip distance from pickup and drop coordinates when
// the request did not carry a distance of its own.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/shiva/rentwheels/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0

	// RoadCircuityFactor scales a great-circle distance to an approximate
	// road distance for Indian intercity highways.
	RoadCircuityFactor = 1.25
)

// ErrOutOfRange is returned for a latitude outside [-90, 90] or a longitude
// outside [-180, 180].
var ErrOutOfRange = errors.New("geo: coordinate out of range")

// Validate checks that loc is a usable WGS-84 point.
func Validate(loc model.Location) error {
	switch {
	case math.IsNaN(loc.Lat) || loc.Lat < -90 || loc.Lat > 90:
		return fmt.Errorf("%w: lat %v", ErrOutOfRange, loc.Lat)
	case math.IsNaN(loc.Lon) || loc.Lon < -180 || loc.Lon > 180:
		return fmt.Errorf("%w: lon %v", ErrOutOfRange, loc.Lon)
	}
	return nil
}

// ─── Distance ───────────────────────────────────────────────

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(a, b model.Location) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	halfDLat := (lat2 - lat1) / 2
	halfDLon := radians(b.Lon-a.Lon) / 2

	h := math.Pow(math.Sin(halfDLat), 2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(halfDLon), 2)
	h = math.Min(1, h)

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// EstimateRoadKm returns the approximate road distance between two points,
// rounded to one decimal place.
func EstimateRoadKm(a, b model.Location) float64 {
	return math.Round(HaversineKm(a, b)*RoadCircuityFactor*10) / 10
}

// RoadDistance validates both ends of a trip and returns EstimateRoadKm.
// The error names which end was rejected.
func RoadDistance(pickup, drop model.Location) (float64, error) {
	if err := Validate(pickup); err != nil {
		return 0, fmt.Errorf("pickup: %w", err)
	}
	if err := Validate(drop); err != nil {
		return 0, fmt.Errorf("drop: %w", err)
	}
	return EstimateRoadKm(pickup, drop), nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
