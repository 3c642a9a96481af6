// Package calibrate implements the calibration sequence: an offset sweep,
// an exposure-target search, an FOV/distortion solve, and a solver
// tolerance derived from the p90 of observed solve error (spec.md §3,
// §4.4, §6).
package calibrate

import (
	"context"
	"fmt"
	"time"

	"boresight/internal/camera"
	"boresight/internal/detect"
	"boresight/internal/mode"
	"boresight/internal/solve"
	"boresight/internal/stats"
)

// FailureReason re-exports the solve-stage failure taxonomy a calibration
// run can terminate with (spec.md §8).
type FailureReason = solve.FailureReason

// Result is the outcome of one calibration run.
type Result struct {
	OK              bool
	Reason          FailureReason
	Data            mode.CalibrationData
	OffsetChosen    int
	ExposureChosen  time.Duration
	Attempts        int
}

// exposureTargetTolerance is the ±20% band around the desired star count
// that counts as "on target" for two consecutive frames (spec.md §4.4).
const exposureTargetTolerance = 0.20

// safetyFactor multiplies the observed p90 solve error to derive the
// solver tolerance used at runtime (spec.md §4.4).
const safetyFactor = 1.5

// Runner drives one calibration sequence end to end. It captures directly
// through the camera facade and the detect/solve stages, bypassing the
// pipeline engine, since a calibration run owns the camera for its
// duration and must not race with the live conveyor (the caller is
// responsible for pausing the pipeline's integrate stage, e.g. by holding
// mode.Controller in a "calibrating" state the mode-aware consumers check).
type Runner struct {
	cam       *camera.Facade
	detector  detect.Detector
	solver    solve.Solver
	desiredStars int
	maxExposure  time.Duration
	offsetMin, offsetMax, offsetStep int

	errorRing *stats.Ring
}

// NewRunner wires a calibration runner.
func NewRunner(cam *camera.Facade, detector detect.Detector, solver solve.Solver, desiredStars int, maxExposure time.Duration) *Runner {
	return &Runner{
		cam:          cam,
		detector:     detector,
		solver:       solver,
		desiredStars: desiredStars,
		maxExposure:  maxExposure,
		offsetMin:    0,
		offsetMax:    255,
		offsetStep:   32,
		errorRing:    stats.New(),
	}
}

// Run executes the full sequence: offset sweep -> exposure target ->
// FOV/distortion solve -> tolerance derivation. progressFn, if non-nil, is
// called with fractional progress in [0,1] after each phase.
func (r *Runner) Run(ctx context.Context, progressFn func(float64)) (Result, error) {
	report := func(f float64) {
		if progressFn != nil {
			progressFn(f)
		}
	}

	offset, err := r.sweepOffset(ctx)
	if err != nil {
		return Result{OK: false, Reason: solve.SolverFailed}, fmt.Errorf("offset sweep: %w", err)
	}
	report(0.25)

	exposure, attempts, err := r.findExposureTarget(ctx)
	if err != nil {
		return Result{OK: false, Reason: solve.TooFewStars, OffsetChosen: offset}, fmt.Errorf("exposure target: %w", err)
	}
	report(0.5)

	fovDeg, arcsecPerPixel, err := r.solveFOV(ctx, exposure)
	if err != nil {
		reason := solve.SolverFailed
		if f, ok := solve.AsFailure(err); ok {
			reason = f.Reason
		}
		return Result{OK: false, Reason: reason, OffsetChosen: offset, ExposureChosen: exposure, Attempts: attempts}, err
	}
	report(0.9)

	tolerance := r.errorRing.Percentile(90) * safetyFactor

	report(1.0)
	return Result{
		OK:             true,
		OffsetChosen:   offset,
		ExposureChosen: exposure,
		Attempts:       attempts,
		Data: mode.CalibrationData{
			Valid:           true,
			FOVDeg:          fovDeg,
			ArcsecPerPixel:  arcsecPerPixel,
			SolverTolerance: tolerance,
		},
	}, nil
}

// sweepOffset tries a ladder of sensor offsets and picks the one that
// yields the lowest background level without clipping detections to zero.
func (r *Runner) sweepOffset(ctx context.Context) (int, error) {
	best := r.offsetMin
	bestBackground := -1.0
	for off := r.offsetMin; off <= r.offsetMax; off += r.offsetStep {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		r.cam.RequestOffset(off)
		frame, err := r.cam.Capture(ctx)
		if err != nil {
			return 0, err
		}
		det, err := r.detector.Detect(ctx, frame)
		if err != nil {
			return 0, err
		}
		if len(det.Stars) == 0 {
			continue
		}
		if bestBackground < 0 || det.Background < bestBackground {
			bestBackground = det.Background
			best = off
		}
	}
	r.cam.RequestOffset(best)
	return best, nil
}

// findExposureTarget adjusts exposure using the same geometric ladder
// autoexp uses, stopping when the detected star count is within ±20% of
// desiredStars for two consecutive frames, or the ladder's max is reached
// (spec.md §4.4).
func (r *Runner) findExposureTarget(ctx context.Context) (time.Duration, int, error) {
	exposure := camera.ExposureLadder(r.maxExposure)[0]
	onTargetStreak := 0
	attempts := 0

	for {
		attempts++
		r.cam.RequestExposure(exposure)
		frame, err := r.cam.Capture(ctx)
		if err != nil {
			return 0, attempts, err
		}
		det, err := r.detector.Detect(ctx, frame)
		if err != nil {
			return 0, attempts, err
		}

		lower := float64(r.desiredStars) * (1 - exposureTargetTolerance)
		upper := float64(r.desiredStars) * (1 + exposureTargetTolerance)
		n := float64(len(det.Stars))

		if n >= lower && n <= upper {
			onTargetStreak++
			if onTargetStreak >= 2 {
				return exposure, attempts, nil
			}
			continue
		}
		onTargetStreak = 0

		if exposure >= r.maxExposure {
			return exposure, attempts, nil
		}

		var next time.Duration
		if n < lower {
			next = exposure * 2
		} else {
			next = exposure / 2
		}
		exposure = camera.NearestLadderIndex(next, r.maxExposure)

		select {
		case <-ctx.Done():
			return 0, attempts, ctx.Err()
		default:
		}
	}
}

// solveFOV captures one more frame at the chosen exposure, solves it, and
// derives FOV/plate-scale plus accumulates the solve error sample used for
// the p90 tolerance.
func (r *Runner) solveFOV(ctx context.Context, exposure time.Duration) (fovDeg, arcsecPerPixel float64, err error) {
	select {
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	default:
	}
	r.cam.RequestExposure(exposure)
	frame, err := r.cam.Capture(ctx)
	if err != nil {
		return 0, 0, err
	}
	det, err := r.detector.Detect(ctx, frame)
	if err != nil {
		return 0, 0, err
	}
	if len(det.Stars) < solve.MinStarsToSolve {
		return 0, 0, &solve.Failure{Reason: solve.TooFewStars}
	}
	sol, err := r.solver.Solve(ctx, det, nil)
	if err != nil {
		return 0, 0, err
	}

	// Residual: compare each matched star's detected pixel position implied
	// separation against the solved plate scale, as a rough per-star error
	// sample feeding the tolerance ring.
	for _, m := range sol.Matched {
		r.errorRing.Add(residualArcsec(m, sol.ArcsecPerPixel))
	}

	return sol.FOVDeg, sol.ArcsecPerPixel, nil
}

// residualArcsec is a placeholder residual estimate: in the absence of a
// true catalog cross-check here (the Solver already did that matching),
// this uses a tenth of the star's FWHM scaled by plate scale as a stand-in
// error magnitude, without re-implementing the solver's own internal
// residual computation.
func residualArcsec(m solve.MatchedStar, arcsecPerPixel float64) float64 {
	return m.Star.FWHM * arcsecPerPixel * 0.1
}
