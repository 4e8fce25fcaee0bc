// Package geo provides GPS location values and proximity validation for
// session check-in and checkout.
package geo

import (
	"fmt"
	"time"
)

// Location is an immutable GPS fix reported by a participant's device.
type Location struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	Address        string    `json:"address,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// NewLocation validates coordinates and returns a Location.
func NewLocation(lat, lon, accuracyMeters float64, capturedAt time.Time) (Location, error) {
	if lat < -90 || lat > 90 {
		return Location{}, fmt.Errorf("latitude %v out of range [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return Location{}, fmt.Errorf("longitude %v out of range [-180, 180]", lon)
	}
	if accuracyMeters <= 0 {
		return Location{}, fmt.Errorf("accuracy must be positive, got %v", accuracyMeters)
	}
	return Location{
		Latitude:       lat,
		Longitude:      lon,
		AccuracyMeters: accuracyMeters,
		CapturedAt:     capturedAt,
	}, nil
}

// IsZero reports whether the location carries no fix.
func (l Location) IsZero() bool {
	return l.Latitude == 0 && l.Longitude == 0 && l.AccuracyMeters == 0 && l.CapturedAt.IsZero()
}
