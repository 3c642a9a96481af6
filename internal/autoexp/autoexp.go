// Package autoexp implements the auto-exposure controller (spec.md §3,
// §4.3, §6): a bounded proportional-multiplicative control law over the
// camera facade's fixed exposure ladder, with three policies keyed to the
// mode controller's current sub-mode.
package autoexp

import (
	"time"

	"boresight/internal/camera"
)

// Policy selects which control target the controller is driving toward.
type Policy int

const (
	// PolicyPlateSolve drives toward enough detected stars to solve
	// reliably without saturating (spec.md §4.3 default / "operate" mode).
	PolicyPlateSolve Policy = iota
	// PolicyFocusAssist favors a single bright, unsaturated star for focus
	// feedback (spec.md §4.2 focus-assist sub-mode).
	PolicyFocusAssist
	// PolicyDaylight clamps to the shortest exposures to avoid saturation
	// under a bright sky (spec.md §4.2 daylight sub-mode).
	PolicyDaylight
)

// Target holds the desired-star-count set point and bounds the controller
// operates within (spec.md §6 CLI surface: solve sigma / star-count set points).
type Target struct {
	DesiredStars int
	MaxExposure  time.Duration
	// GainStep bounds how much the multiplicative step can move per frame,
	// preventing oscillation (spec.md §4.3 "bounded").
	GainStep float64
}

// DefaultTarget matches the CLI's documented defaults.
func DefaultTarget() Target {
	return Target{DesiredStars: 20, MaxExposure: 2 * time.Second, GainStep: 0.5}
}

// Controller is a pure function object: it is given the latest detection
// count and returns the next exposure to request of the camera facade. It
// holds no mutable state beyond what's needed to avoid oscillation, so it
// is safe to call once per published frame from the pipeline's publish
// stage without any locking of its own.
type Controller struct {
	target Target
}

func New(target Target) *Controller { return &Controller{target: target} }

// Next computes the next exposure to request, given the previous exposure
// actually used and the star count (or sky-too-bright flag) observed at
// that exposure.
func (c *Controller) Next(policy Policy, prevExposure time.Duration, starCount int, skyTooBright bool) time.Duration {
	switch policy {
	case PolicyDaylight:
		return c.daylight(prevExposure, skyTooBright)
	case PolicyFocusAssist:
		return c.focusAssist(prevExposure, starCount)
	default:
		return c.plateSolve(prevExposure, starCount)
	}
}

func (c *Controller) plateSolve(prev time.Duration, starCount int) time.Duration {
	if c.target.DesiredStars <= 0 {
		return prev
	}
	ratio := float64(c.target.DesiredStars) / float64(max(starCount, 1))
	ratio = clampStep(ratio, c.target.GainStep)
	next := time.Duration(float64(prev) * ratio)
	return camera.NearestLadderIndex(next, c.target.MaxExposure)
}

func (c *Controller) focusAssist(prev time.Duration, starCount int) time.Duration {
	// Focus assist wants exactly one well-exposed star: back off hard if
	// more than a couple are found (likely saturated field), push up if none.
	switch {
	case starCount == 0:
		next := time.Duration(float64(prev) * (1 + c.target.GainStep))
		return camera.NearestLadderIndex(next, c.target.MaxExposure)
	case starCount > 2:
		next := time.Duration(float64(prev) * (1 - c.target.GainStep))
		return camera.NearestLadderIndex(next, c.target.MaxExposure)
	default:
		return prev
	}
}

func (c *Controller) daylight(prev time.Duration, skyTooBright bool) time.Duration {
	ladder := camera.ExposureLadder(c.target.MaxExposure)
	shortest := ladder[0]
	if skyTooBright {
		return shortest
	}
	return camera.NearestLadderIndex(prev, c.target.MaxExposure)
}

// clampStep bounds a multiplicative ratio to [1-step, 1+step] so a single
// frame's reading cannot swing exposure by more than the configured step.
func clampStep(ratio, step float64) float64 {
	if ratio > 1+step {
		return 1 + step
	}
	if ratio < 1-step {
		return 1 - step
	}
	return ratio
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
