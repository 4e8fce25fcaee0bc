package geo

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000.0

// DefaultMaxAccuracyMeters is the ceiling above which a reported fix is
// considered too imprecise to trust.
const DefaultMaxAccuracyMeters = 100.0

// Failure codes for a rejected validation. Closed set, usable as metric
// labels.
const (
	FailAccuracy = "accuracy"
	FailRadius   = "radius"
)

// Result is the outcome of a proximity validation. A failed validation is a
// business result, not an error. Code identifies the failure kind; Reason
// carries the human-readable detail.
type Result struct {
	OK             bool    `json:"ok"`
	DistanceMeters float64 `json:"distance_meters"`
	Code           string  `json:"code,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

// Validator checks reported locations against a target within a radius.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	maxAccuracyMeters float64
}

// NewValidator creates a validator with the given accuracy ceiling.
// A non-positive ceiling falls back to DefaultMaxAccuracyMeters.
func NewValidator(maxAccuracyMeters float64) *Validator {
	if maxAccuracyMeters <= 0 {
		maxAccuracyMeters = DefaultMaxAccuracyMeters
	}
	return &Validator{maxAccuracyMeters: maxAccuracyMeters}
}

// Validate reports whether candidate is within radiusMeters of target and the
// reported accuracy is acceptable.
func (v *Validator) Validate(candidate, target Location, radiusMeters float64) Result {
	if candidate.AccuracyMeters > v.maxAccuracyMeters {
		return Result{
			OK:   false,
			Code: FailAccuracy,
			Reason: fmt.Sprintf("reported GPS accuracy %.0fm exceeds the %.0fm ceiling",
				candidate.AccuracyMeters, v.maxAccuracyMeters),
		}
	}

	distance := Distance(candidate, target)
	if distance > radiusMeters {
		return Result{
			OK:             false,
			DistanceMeters: distance,
			Code:           FailRadius,
			Reason: fmt.Sprintf("location is %.0fm from the session address (allowed radius %.0fm)",
				distance, radiusMeters),
		}
	}

	return Result{OK: true, DistanceMeters: distance}
}

// Distance returns the great-circle distance between two locations in meters,
// computed with the haversine formula.
func Distance(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
