// Package motion implements the motion analyzer: dwell detection, mount
// classification, and (in polaralign.go) the polar-alignment drift
// estimate (spec.md §3, §4.5, §9).
package motion

import (
	"math"
	"time"

	"boresight/internal/stats"
)

// Sample is one plate-solved frame center, timestamped, fed to the analyzer.
type Sample struct {
	At       time.Time
	RA, Dec  float64 // degrees, J2000
}

// MountClass is the analyzer's classification of how the mount is moving.
type MountClass int

const (
	MountUndetermined MountClass = iota
	MountNonTracked
	MountClockDrivenEquatorial
)

func (m MountClass) String() string {
	switch m {
	case MountNonTracked:
		return "non_tracked"
	case MountClockDrivenEquatorial:
		return "clock_driven_equatorial"
	default:
		return "undetermined"
	}
}

// dwellWindow is the time window over which angular spread is measured to
// decide whether the telescope is dwelling (spec.md §4.5).
const dwellWindow = 30 * time.Second

// dwellEpsilonDeg is the maximum angular spread within dwellWindow that
// still counts as "dwelling" rather than slewing.
const dwellEpsilonDeg = 0.05

// Analyzer accumulates recent plate-solved centers and derives dwell state
// and mount classification from their motion.
type Analyzer struct {
	samples []Sample

	altRing *stats.Ring
	azRing  *stats.Ring
}

// New returns an empty Analyzer.
func New() *Analyzer { return &Analyzer{altRing: stats.New(), azRing: stats.New()} }

// Add records a new solved center, evicting samples older than twice
// dwellWindow (the span ClassifyMount looks at) so classification always has
// enough history without growing unbounded.
func (a *Analyzer) Add(s Sample) {
	a.samples = append(a.samples, s)
	cutoff := s.At.Add(-2 * dwellWindow)
	i := 0
	for i < len(a.samples) && a.samples[i].At.Before(cutoff) {
		i++
	}
	a.samples = a.samples[i:]
}

// IsDwelling reports whether the maximum angular distance between any two
// samples within the trailing dwellWindow is below dwellEpsilonDeg
// (spec.md §4.5 "dwell detection via max angular distance over window").
func (a *Analyzer) IsDwelling(now time.Time) bool {
	windowed := a.inWindow(now, dwellWindow)
	if len(windowed) < 2 {
		return false
	}
	maxDist := 0.0
	for i := 0; i < len(windowed); i++ {
		for j := i + 1; j < len(windowed); j++ {
			d := angularDistanceDeg(windowed[i].RA, windowed[i].Dec, windowed[j].RA, windowed[j].Dec)
			if d > maxDist {
				maxDist = d
			}
		}
	}
	return maxDist < dwellEpsilonDeg
}

// ClassifyMount inspects motion over the available history to decide
// whether the mount looks non-tracked (fixed RA/Dec drifts with sidereal
// rate due to Earth's rotation not being compensated), clock-driven
// equatorial (RA roughly constant, Dec roughly constant — tracking), or
// undetermined (not enough data, or a pattern matching neither).
func (a *Analyzer) ClassifyMount(now time.Time) MountClass {
	windowed := a.inWindow(now, 2*dwellWindow)
	if len(windowed) < 3 {
		return MountUndetermined
	}

	first, last := windowed[0], windowed[len(windowed)-1]
	dt := last.At.Sub(first.At).Hours()
	if dt <= 0 {
		return MountUndetermined
	}

	decDriftDegPerHour := math.Abs(last.Dec-first.Dec) / dt
	// Sidereal rate is ~15.041 deg/hr in RA for a fixed pointing: an RA drift
	// within trackedTolerance of it means the mount is not compensating at
	// all. Both drifts below trackedTolerance means it is tracking. Any other
	// pattern is undetermined.
	raDriftDegPerHour := math.Abs(angularDeltaDeg(last.RA, first.RA)) / dt

	const siderealDegPerHour = 15.041
	const trackedTolerance = 0.5 // deg/hr slack for tracked classification

	switch {
	case decDriftDegPerHour < trackedTolerance && math.Abs(raDriftDegPerHour) < trackedTolerance:
		return MountClockDrivenEquatorial
	case math.Abs(raDriftDegPerHour-siderealDegPerHour) < trackedTolerance:
		return MountNonTracked
	default:
		return MountUndetermined
	}
}

func (a *Analyzer) inWindow(now time.Time, window time.Duration) []Sample {
	cutoff := now.Add(-window)
	var out []Sample
	for _, s := range a.samples {
		if !s.At.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// angularDistanceDeg is the great-circle separation between two RA/Dec
// points in degrees (small-angle-safe haversine form).
func angularDistanceDeg(ra1, dec1, ra2, dec2 float64) float64 {
	r1, d1 := deg2rad(ra1), deg2rad(dec1)
	r2, d2 := deg2rad(ra2), deg2rad(dec2)
	dra := r2 - r1
	ddec := d2 - d1
	a := math.Sin(ddec/2)*math.Sin(ddec/2) +
		math.Cos(d1)*math.Cos(d2)*math.Sin(dra/2)*math.Sin(dra/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return rad2deg(c)
}

// angularDeltaDeg wraps an RA delta to [-180, 180).
func angularDeltaDeg(a, b float64) float64 {
	d := math.Mod(a-b+540, 360) - 180
	return d
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

// Advice is the motion analyzer's latest derived signal set, attached to a
// FrameResult by the pipeline (spec.md §4.5).
type Advice struct {
	Dwelling   bool
	MountClass MountClass
	// PolarAlign is nil unless the mount is classified clock-driven
	// equatorial, the observer location is known, and a dwell has
	// accumulated at least one sample (spec.md §4.5 "only when classified
	// as clock-driven equatorial and observer location known").
	PolarAlign *PolarAlignAdvice
}

// PolarAlignAdvice carries the altitude/azimuth correction estimates and
// their accumulated RMS error (spec.md §4.5 "emit an advice value with an
// RMS error estimate").
type PolarAlignAdvice struct {
	AltErrDeg    float64
	AzErrDeg     float64
	AltRMSDeg    float64
	AzRMSDeg     float64
	Samples      int
}

// Advise evaluates dwell/mount-class/polar-align advice for the current
// moment. latDeg/lonDeg/haveObserver gate the polar-align component, since
// that math requires a known site (spec.md §3, §4.5, §9).
func (a *Analyzer) Advise(now time.Time, latDeg, lonDeg float64, haveObserver bool) Advice {
	adv := Advice{
		Dwelling:   a.IsDwelling(now),
		MountClass: a.ClassifyMount(now),
	}
	if !adv.Dwelling || adv.MountClass != MountClockDrivenEquatorial || !haveObserver {
		return adv
	}

	windowed := a.inWindow(now, dwellWindow)
	if len(windowed) < 2 {
		return adv
	}
	first, last := windowed[0], windowed[len(windowed)-1]
	dt := last.At.Sub(first.At).Seconds()
	if dt <= 0 {
		return adv
	}
	decDriftArcsecPerSec := (last.Dec - first.Dec) * 3600 / dt
	ha := hourAngleDeg(last.At, lonDeg, last.RA)

	in := PolarAlignInput{DecDriftArcsecPerSec: decDriftArcsecPerSec, LatitudeDeg: latDeg, HourAngleDeg: ha}

	pa := &PolarAlignAdvice{}
	if altErr, err := EstimateAltitudeError(in); err == nil {
		a.altRing.Add(altErr)
		snap := a.altRing.Snapshot()
		pa.AltErrDeg = altErr
		pa.AltRMSDeg = rms(snap.SessionMean, snap.SessionStdDev)
		pa.Samples++
	}
	if azErr, err := EstimateAzimuthError(in); err == nil {
		a.azRing.Add(azErr)
		snap := a.azRing.Snapshot()
		pa.AzErrDeg = azErr
		pa.AzRMSDeg = rms(snap.SessionMean, snap.SessionStdDev)
		pa.Samples++
	}
	if pa.Samples > 0 {
		adv.PolarAlign = pa
	}
	return adv
}

// rms derives root-mean-square from a session mean and standard deviation
// (RMS^2 = variance + mean^2), avoiding a second accumulator pass.
func rms(mean, stddev float64) float64 {
	return math.Sqrt(mean*mean + stddev*stddev)
}
