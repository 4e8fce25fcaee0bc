package geo

import (
	"math"
	"testing"
	"time"
)

func loc(t *testing.T, lat, lon, accuracy float64) Location {
	t.Helper()
	l, err := NewLocation(lat, lon, accuracy, time.Now())
	if err != nil {
		t.Fatalf("new location: %v", err)
	}
	return l
}

func TestNewLocation_Bounds(t *testing.T) {
	if _, err := NewLocation(91, 0, 5, time.Now()); err == nil {
		t.Fatal("expected latitude out of range error")
	}
	if _, err := NewLocation(0, -181, 5, time.Now()); err == nil {
		t.Fatal("expected longitude out of range error")
	}
	if _, err := NewLocation(0, 0, 0, time.Now()); err == nil {
		t.Fatal("expected accuracy error")
	}
	if _, err := NewLocation(-90, 180, 1, time.Now()); err != nil {
		t.Fatalf("boundary coordinates should be valid: %v", err)
	}
}

func TestDistance_KnownPair(t *testing.T) {
	// Boston Common to MIT dome, roughly 2.6km.
	a := loc(t, 42.3550, -71.0656, 5)
	b := loc(t, 42.3601, -71.0942, 5)

	d := Distance(a, b)
	if d < 2300 || d > 2900 {
		t.Fatalf("unexpected distance: %.0fm", d)
	}
}

func TestDistance_Symmetry(t *testing.T) {
	a := loc(t, 40.7128, -74.0060, 5)
	b := loc(t, 40.7138, -74.0050, 5)
	if math.Abs(Distance(a, b)-Distance(b, a)) > 1e-9 {
		t.Fatal("distance must be symmetric")
	}
	if Distance(a, a) != 0 {
		t.Fatal("distance to self must be zero")
	}
}

func TestValidate_WithinRadius(t *testing.T) {
	v := NewValidator(50)
	target := loc(t, 42.3550, -71.0656, 5)
	// Roughly 20m north of the target.
	candidate := loc(t, 42.35518, -71.0656, 8)

	res := v.Validate(candidate, target, 50)
	if !res.OK {
		t.Fatalf("expected valid, got reason %q", res.Reason)
	}
	if res.DistanceMeters <= 0 || res.DistanceMeters > 50 {
		t.Fatalf("unexpected distance: %v", res.DistanceMeters)
	}

	// Validation holds with candidate and target swapped.
	if swapped := v.Validate(target, candidate, 50); !swapped.OK {
		t.Fatalf("swapped validation failed: %q", swapped.Reason)
	}
}

func TestValidate_TooFar(t *testing.T) {
	v := NewValidator(100)
	target := loc(t, 42.3550, -71.0656, 5)
	// Roughly 500m away.
	candidate := loc(t, 42.3595, -71.0656, 8)

	res := v.Validate(candidate, target, 50)
	if res.OK {
		t.Fatal("expected invalid result")
	}
	if res.DistanceMeters < 400 || res.DistanceMeters > 600 {
		t.Fatalf("unexpected distance: %v", res.DistanceMeters)
	}
	if res.Code != FailRadius {
		t.Fatalf("expected radius failure code, got %q", res.Code)
	}
	if res.Reason == "" {
		t.Fatal("expected a human-readable reason")
	}
}

func TestValidate_AccuracyCeiling(t *testing.T) {
	v := NewValidator(10)
	target := loc(t, 42.3550, -71.0656, 5)
	candidate := loc(t, 42.3550, -71.0656, 250)

	res := v.Validate(candidate, target, 50)
	if res.OK {
		t.Fatal("imprecise fix must be rejected")
	}
	if res.Code != FailAccuracy {
		t.Fatalf("expected accuracy failure code, got %q", res.Code)
	}
	if res.Reason == "" {
		t.Fatal("expected a reason naming the accuracy ceiling")
	}
}

func TestNewValidator_DefaultCeiling(t *testing.T) {
	v := NewValidator(0)
	if v.maxAccuracyMeters != DefaultMaxAccuracyMeters {
		t.Fatalf("expected default ceiling, got %v", v.maxAccuracyMeters)
	}
}
