package motion

import (
	"testing"
	"time"
)

func TestIsDwellingWithStationarySamples(t *testing.T) {
	a := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		a.Add(Sample{At: base.Add(time.Duration(i) * 5 * time.Second), RA: 100, Dec: 20})
	}
	if !a.IsDwelling(base.Add(20 * time.Second)) {
		t.Fatal("expected stationary samples to be classified as dwelling")
	}
}

func TestIsDwellingFalseWhenSlewing(t *testing.T) {
	a := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.Add(Sample{At: base, RA: 100, Dec: 20})
	a.Add(Sample{At: base.Add(5 * time.Second), RA: 130, Dec: 40})
	if a.IsDwelling(base.Add(5 * time.Second)) {
		t.Fatal("expected large angular jump to not be classified as dwelling")
	}
}

func TestIsDwellingFalseWithInsufficientSamples(t *testing.T) {
	a := New()
	a.Add(Sample{At: time.Now(), RA: 10, Dec: 10})
	if a.IsDwelling(time.Now()) {
		t.Fatal("expected a single sample to never be classified as dwelling")
	}
}

func TestClassifyMountTracked(t *testing.T) {
	a := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		a.Add(Sample{At: base.Add(time.Duration(i) * 15 * time.Second), RA: 100, Dec: 20})
	}
	got := a.ClassifyMount(base.Add(45 * time.Second))
	if got != MountClockDrivenEquatorial {
		t.Fatalf("expected clock-driven classification for a fixed RA/Dec, got %v", got)
	}
}

func TestClassifyMountNonTracked(t *testing.T) {
	a := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// one minute of sidereal drift in RA (~0.2507 deg), Dec unchanged.
	const siderealDegPerHour = 15.041
	oneMinDrift := siderealDegPerHour / 60
	a.Add(Sample{At: base, RA: 100, Dec: 20})
	a.Add(Sample{At: base.Add(30 * time.Second), RA: 100 + oneMinDrift/2, Dec: 20})
	a.Add(Sample{At: base.Add(60 * time.Second), RA: 100 + oneMinDrift, Dec: 20})
	got := a.ClassifyMount(base.Add(60 * time.Second))
	if got != MountNonTracked {
		t.Fatalf("expected non-tracked classification for sidereal RA drift, got %v", got)
	}
}

func TestClassifyMountUndeterminedWithTooFewSamples(t *testing.T) {
	a := New()
	a.Add(Sample{At: time.Now(), RA: 1, Dec: 1})
	if got := a.ClassifyMount(time.Now()); got != MountUndetermined {
		t.Fatalf("expected undetermined with too little history, got %v", got)
	}
}

func TestEstimateAltitudeErrorAwayFromMeridian(t *testing.T) {
	in := PolarAlignInput{DecDriftArcsecPerSec: 1.0, LatitudeDeg: 40, HourAngleDeg: 30}
	alt, err := EstimateAltitudeError(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alt == 0 {
		t.Fatal("expected a nonzero altitude error estimate")
	}
}

func TestEstimateAltitudeErrorDegenerateAtZeroHourAngle(t *testing.T) {
	in := PolarAlignInput{DecDriftArcsecPerSec: 1.0, LatitudeDeg: 40, HourAngleDeg: 0}
	if _, err := EstimateAltitudeError(in); err == nil {
		t.Fatal("expected degenerate-geometry error at hour angle 0")
	}
}

func TestEstimateAzimuthErrorDegenerateAtNinety(t *testing.T) {
	in := PolarAlignInput{DecDriftArcsecPerSec: 1.0, LatitudeDeg: 40, HourAngleDeg: 90}
	if _, err := EstimateAzimuthError(in); err == nil {
		t.Fatal("expected degenerate-geometry error at hour angle 90")
	}
}

func TestAdviseSuppressesPolarAlignWithoutObserver(t *testing.T) {
	a := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		a.Add(Sample{At: base.Add(time.Duration(i) * 15 * time.Second), RA: 100, Dec: 20})
	}
	adv := a.Advise(base.Add(45*time.Second), 40, -70, false)
	if !adv.Dwelling {
		t.Fatal("expected stationary samples to be classified as dwelling")
	}
	if adv.PolarAlign != nil {
		t.Fatal("expected no polar-align advice without a known observer location")
	}
}

func TestAdviseSuppressesPolarAlignWhenNotDwelling(t *testing.T) {
	a := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.Add(Sample{At: base, RA: 100, Dec: 20})
	a.Add(Sample{At: base.Add(5 * time.Second), RA: 130, Dec: 40})
	adv := a.Advise(base.Add(5*time.Second), 40, -70, true)
	if adv.Dwelling {
		t.Fatal("expected a large angular jump to not be classified as dwelling")
	}
	if adv.PolarAlign != nil {
		t.Fatal("expected no polar-align advice while slewing")
	}
}

func TestAdviseProducesPolarAlignWhenDwellingTrackedAndLocated(t *testing.T) {
	a := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.Add(Sample{At: base, RA: 100, Dec: 20})
	a.Add(Sample{At: base.Add(15 * time.Second), RA: 100, Dec: 20.001})
	a.Add(Sample{At: base.Add(30 * time.Second), RA: 100, Dec: 20.002})

	adv := a.Advise(base.Add(30*time.Second), 40, -70, true)
	if !adv.Dwelling || adv.MountClass != MountClockDrivenEquatorial {
		t.Fatalf("expected a dwelling, clock-driven classification, got dwelling=%v class=%v", adv.Dwelling, adv.MountClass)
	}
	if adv.PolarAlign == nil {
		t.Fatal("expected polar-align advice once dwelling, tracked, and located")
	}
	if adv.PolarAlign.Samples == 0 {
		t.Fatal("expected at least one alt/az error estimate")
	}
}
