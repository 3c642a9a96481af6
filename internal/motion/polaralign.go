package motion

import (
	"math"
	"time"
)

// PolarAlignError is the estimated mount polar-axis misalignment, expressed
// as an altitude and azimuth correction (spec.md §9 design note).
type PolarAlignError struct {
	AltErrDeg float64
	AzErrDeg  float64
}

// PolarAlignInput bundles what's needed to evaluate the drift relations: a
// short-baseline declination drift rate (arcsec/sec, observed while
// dwelling near the meridian or a convenient hour angle), the observer's
// latitude, and the hour angle of the star being watched.
//
// The canonical relations used here (spec.md §9, carried verbatim in
// meaning from the distilled spec):
//
//	Δalt ≈ (dδ/dt) / (15 · cos(lat) · sin(H))
//	Δaz  ≈ (dδ/dt) / (15 · sin(lat) · cos(H))
//
// dδ/dt is in arcsec/sec, lat and H in degrees, and the constant 15 is
// arcsec/sec of sidereal motion per degree of hour angle. Both formulas
// blow up near their respective zero-crossings (H=0 or H=90) by
// construction — that is a property of the classic drift-alignment method,
// not a bug: the method works by choosing the star's hour angle to
// isolate one error term at a time (near the east/west horizon for
// altitude error, near the meridian for azimuth error), never both at once.
//
// Sign convention: a positive Δalt means the pole is too low (mount needs
// to be raised); a positive Δaz means the pole is east of true north in
// the northern hemisphere. This matches the conventional drift-align
// method's convention, not a physical derivative sign — callers presenting
// this to a user should label the correction direction, not just the
// magnitude.
type PolarAlignInput struct {
	DecDriftArcsecPerSec float64
	LatitudeDeg          float64
	HourAngleDeg         float64
}

// EstimateAltitudeError evaluates Δalt from a drift observation near the
// east/west horizon (spec.md §9), where H is near ±90° and sin(H) is near
// its largest. It does not validate the choice of hour angle beyond
// returning an error when sin(H) is close to zero (at the meridian).
func EstimateAltitudeError(in PolarAlignInput) (float64, error) {
	lat := deg2rad(in.LatitudeDeg)
	h := deg2rad(in.HourAngleDeg)
	denom := 15 * math.Cos(lat) * math.Sin(h)
	if math.Abs(denom) < 1e-9 {
		return 0, errDegenerateGeometry
	}
	return in.DecDriftArcsecPerSec / denom, nil
}

// EstimateAzimuthError evaluates Δaz from a near-meridian drift observation
// (spec.md §9), where H is near 0 and cos(H) is near its largest. It returns
// an error when cos(H) is close to zero (hour angle near ±90°).
func EstimateAzimuthError(in PolarAlignInput) (float64, error) {
	lat := deg2rad(in.LatitudeDeg)
	h := deg2rad(in.HourAngleDeg)
	denom := 15 * math.Sin(lat) * math.Cos(h)
	if math.Abs(denom) < 1e-9 {
		return 0, errDegenerateGeometry
	}
	return in.DecDriftArcsecPerSec / denom, nil
}

// hourAngleDeg computes the boresight's hour angle at t for an observer at
// lonDeg, using the standard low-precision Greenwich Mean Sidereal Time
// formula, wrapped to [-180, 180). Needed to evaluate the polar-alignment
// drift relations without fabricating a sidereal-time source.
func hourAngleDeg(t time.Time, lonDeg, raDeg float64) float64 {
	jd := float64(t.Unix())/86400.0 + 2440587.5
	gmstDeg := math.Mod(280.46061837+360.98564736629*(jd-2451545.0), 360)
	if gmstDeg < 0 {
		gmstDeg += 360
	}
	lst := gmstDeg + lonDeg
	ha := angularDeltaDeg(lst, raDeg)
	return ha
}

var errDegenerateGeometry = polarAlignError("drift geometry too close to a zero-crossing to estimate reliably")

type polarAlignError string

func (e polarAlignError) Error() string { return string(e) }
