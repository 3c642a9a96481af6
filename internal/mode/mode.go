// Package mode implements the mode controller: the setup/operate state
// machine, its mutually-exclusive focus-assist/daylight sub-flags, and
// boresight lifecycle (spec.md §3, §4.2, §9).
package mode

import (
	"sync"
	"time"

	"boresight/internal/assemble"
	"boresight/internal/autoexp"
	"boresight/internal/pipeline"
	"boresight/internal/solve"
)

// Primary is the top-level operating mode.
type Primary int

const (
	Setup Primary = iota
	Operate
)

func (p Primary) String() string {
	if p == Operate {
		return "operate"
	}
	return "setup"
}

// SubMode is a mutually exclusive refinement of Operate (spec.md §4.2:
// "none / focus_assist / daylight").
type SubMode int

const (
	SubNone SubMode = iota
	SubFocusAssist
	SubDaylight
)

func (s SubMode) String() string {
	switch s {
	case SubFocusAssist:
		return "focus_assist"
	case SubDaylight:
		return "daylight"
	default:
		return "none"
	}
}

// Boresight is the designated optical-axis location in frame pixels,
// captured once and reused until re-designated (spec.md §3 "Boresight").
type Boresight struct {
	// OffsetXPixels/OffsetYPixels is the boresight location in frame pixels
	// at the time it was captured.
	OffsetXPixels, OffsetYPixels float64
	CapturedAt                   time.Time
	// FromFrameID records provenance for debugging.
	FromFrameID uint64
}

// ObserverContext carries the location/time needed for zenith-up display
// rotation and polar-alignment math (spec.md §3 "Observer context", §9).
type ObserverContext struct {
	LatitudeDeg, LongitudeDeg float64
	Have                      bool
}

// CalibrationData is the outcome of the most recent calibration run,
// consumed by the solve stage's tolerance and the assembler's FOV-derived
// transforms (spec.md §3 "Calibration data").
type CalibrationData struct {
	Valid           bool
	FOVDeg          float64
	ArcsecPerPixel  float64
	SolverTolerance float64
	DistortionK1    float64
	// CalibrationFailureReason is set when the most recent setup->operate
	// transition's calibration run failed (spec.md §7 "reason in
	// CalibrationData.calibration_failure_reason").
	CalibrationFailureReason string
}

// FixedSettingsPatch is update_fixed_settings's partial-update payload
// (spec.md §6): only non-nil fields are applied.
type FixedSettingsPatch struct {
	LatitudeDeg   *float64 `json:"latitude_deg,omitempty"`
	LongitudeDeg  *float64 `json:"longitude_deg,omitempty"`
	SessionName   *string  `json:"session_name,omitempty"`
	MaxExposureMS *int64   `json:"max_exposure_ms,omitempty"`
}

// OperationSettingsPatch is update_operation_settings's partial-update
// payload (spec.md §6). The Operate transition itself is handled by the
// caller (the frame server drives the Calibrator), not here: this patch
// only ever changes the fields below it, never c.primary directly.
type OperationSettingsPatch struct {
	FocusAssist         *bool    `json:"focus_assist,omitempty"`
	Daylight            *bool    `json:"daylight,omitempty"`
	DesiredStarCount    *int     `json:"desired_star_count,omitempty"`
	SolveSigma          *float64 `json:"solve_sigma,omitempty"`
	UpdateIntervalMS    *int64   `json:"update_interval_ms,omitempty"`
	DwellIntervalMS     *int64   `json:"dwell_interval_ms,omitempty"`
	LogDwelledPositions *bool    `json:"log_dwelled_positions,omitempty"`
	CatalogFilter       *string  `json:"catalog_filter,omitempty"`
	DemoImageName       *string  `json:"demo_image_name,omitempty"`
}

// Snapshot is a read-only, lock-free copy of the controller's state for
// consumers that must not hold the controller's mutex (the assembler, the
// frame server).
type Snapshot struct {
	Primary       Primary
	Sub           SubMode
	Calibrating   bool
	CalibProgress float64
	Boresight     *Boresight
	Observer      ObserverContext
	Calibration   CalibrationData
	Fixed         assemble.FixedSettings
	Operation     assemble.OperationSettings
}

// Controller owns mode + calibration + boresight behind a single mutex
// (spec.md §9: "one small mutex guarding mode+calibration+boresight
// together, never sharded, never held across I/O").
type Controller struct {
	mu sync.Mutex

	primary Primary
	sub     SubMode

	calibrating   bool
	calibProgress float64

	boresight *Boresight
	observer  ObserverContext
	calib     CalibrationData

	sessionName   string
	maxExposureMS int64

	desiredStarCount    int
	solveSigma          float64
	updateIntervalMS    int64
	dwellIntervalMS     int64
	logDwelledPositions bool
	catalogFilter       string
	demoImageName       string
}

// defaultDesiredStarCount/defaultSolveSigma/... seed OperationSettings
// before any update_operation_settings call has landed.
const (
	defaultDesiredStarCount = 6
	defaultSolveSigma       = 4.0
	defaultUpdateIntervalMS = 1000
	defaultDwellIntervalMS  = 30000
)

// New returns a Controller starting in Setup/None.
func New() *Controller {
	return &Controller{
		primary:          Setup,
		sub:              SubNone,
		desiredStarCount: defaultDesiredStarCount,
		solveSigma:       defaultSolveSigma,
		updateIntervalMS: defaultUpdateIntervalMS,
		dwellIntervalMS:  defaultDwellIntervalMS,
	}
}

// Snapshot returns a copy of the current state. Safe to call from any goroutine.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var bs *Boresight
	if c.boresight != nil {
		cp := *c.boresight
		bs = &cp
	}
	return Snapshot{
		Primary:       c.primary,
		Sub:           c.sub,
		Calibrating:   c.calibrating,
		CalibProgress: c.calibProgress,
		Boresight:     bs,
		Observer:      c.observer,
		Calibration:   c.calib,
		Fixed:         c.fixedSettingsLocked(),
		Operation:     c.operationSettingsLocked(),
	}
}

// EnterOperate transitions Setup -> Operate. A no-op if already in Operate.
func (c *Controller) EnterOperate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primary = Operate
}

// EnterSetup transitions back to Setup and clears any sub-mode, since
// focus-assist/daylight are only meaningful while operating (spec.md §4.2).
func (c *Controller) EnterSetup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primary = Setup
	c.sub = SubNone
}

// SetSubMode sets the operate sub-mode. It is a no-op (returns false) while
// in Setup, since sub-modes are only meaningful during Operate.
func (c *Controller) SetSubMode(sub SubMode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primary != Operate {
		return false
	}
	c.sub = sub
	return true
}

// BeginCalibration marks calibration in progress with 0 initial progress.
// Returns false if a calibration is already running.
func (c *Controller) BeginCalibration() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calibrating {
		return false
	}
	c.calibrating = true
	c.calibProgress = 0
	return true
}

// UpdateCalibrationProgress reports fractional progress, 0..1.
func (c *Controller) UpdateCalibrationProgress(frac float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.calibrating {
		return
	}
	c.calibProgress = frac
}

// FinishCalibration records the calibration outcome and clears the in-progress flag.
func (c *Controller) FinishCalibration(data CalibrationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calibrating = false
	c.calibProgress = 1
	c.calib = data
}

// FailCalibration records why the most recent calibration run did not
// produce a usable result. It does not change the primary mode; callers
// only enter Operate after a successful run (spec.md §7
// "Calibration step failure ... stays in setup, reason in
// CalibrationData.calibration_failure_reason").
func (c *Controller) FailCalibration(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calibrating = false
	c.calibProgress = 0
	c.calib.CalibrationFailureReason = reason
}

// AbortCalibration marks an in-progress calibration as cancelled and
// returns to Setup (spec.md §4.8 "cancel_calibration"). Returns false if no
// calibration was running. The caller is responsible for cancelling the
// context driving the actual calibration run; this only updates the
// controller's visible state.
func (c *Controller) AbortCalibration() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.calibrating {
		return false
	}
	c.calibrating = false
	c.calibProgress = 0
	c.primary = Setup
	c.calib.CalibrationFailureReason = "cancelled"
	return true
}

// CaptureBoresight sets the boresight to the given frame-pixel location
// (spec.md §4.6 "capture_boresight": the frame server passes the active
// slew target's image position).
func (c *Controller) CaptureBoresight(xPixels, yPixels float64, frameID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boresight = &Boresight{
		OffsetXPixels: xPixels,
		OffsetYPixels: yPixels,
		CapturedAt:    time.Now(),
		FromFrameID:   frameID,
	}
}

// DesignateBoresight sets an explicit boresight, e.g. restored from
// preferences (spec.md §4.6 "designate_boresight").
func (c *Controller) DesignateBoresight(b Boresight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := b
	c.boresight = &cp
}

// ClearBoresight removes the designated boresight.
func (c *Controller) ClearBoresight() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boresight = nil
}

// SetObserver records the observer's location for zenith/polar-alignment math.
func (c *Controller) SetObserver(lat, lon float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = ObserverContext{LatitudeDeg: lat, LongitudeDeg: lon, Have: true}
}

// FixedSettingsSnapshot returns the current fixed-settings record
// (spec.md §6 "update_fixed_settings").
func (c *Controller) FixedSettingsSnapshot() assemble.FixedSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fixedSettingsLocked()
}

func (c *Controller) fixedSettingsLocked() assemble.FixedSettings {
	return assemble.FixedSettings{
		HasObserver:   c.observer.Have,
		LatitudeDeg:   c.observer.LatitudeDeg,
		LongitudeDeg:  c.observer.LongitudeDeg,
		SessionName:   c.sessionName,
		MaxExposureMS: c.maxExposureMS,
	}
}

// UpdateFixedSettings applies the non-nil fields of patch and returns the
// full resulting record, since the RPC echoes the whole settings object
// back rather than just the changed fields (spec.md §6).
func (c *Controller) UpdateFixedSettings(patch FixedSettingsPatch) assemble.FixedSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	if patch.LatitudeDeg != nil {
		c.observer.LatitudeDeg = *patch.LatitudeDeg
		c.observer.Have = true
	}
	if patch.LongitudeDeg != nil {
		c.observer.LongitudeDeg = *patch.LongitudeDeg
		c.observer.Have = true
	}
	if patch.SessionName != nil {
		c.sessionName = *patch.SessionName
	}
	if patch.MaxExposureMS != nil {
		c.maxExposureMS = *patch.MaxExposureMS
	}
	return c.fixedSettingsLocked()
}

func (c *Controller) operationSettingsLocked() assemble.OperationSettings {
	return assemble.OperationSettings{
		Operate:             c.primary == Operate,
		FocusAssist:         c.sub == SubFocusAssist,
		Daylight:            c.sub == SubDaylight,
		DesiredStarCount:    c.desiredStarCount,
		SolveSigma:          c.solveSigma,
		UpdateIntervalMS:    c.updateIntervalMS,
		DwellIntervalMS:     c.dwellIntervalMS,
		LogDwelledPositions: c.logDwelledPositions,
		CatalogFilter:       c.catalogFilter,
		DemoImageName:       c.demoImageName,
	}
}

// OperationSettingsSnapshot returns the current operation-settings record.
func (c *Controller) OperationSettingsSnapshot() assemble.OperationSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.operationSettingsLocked()
}

// UpdateOperationSettings applies the non-nil fields of patch and returns
// the full resulting record. The Operate transition is deliberately not a
// field here: the frame server decides whether to enter Operate (driving
// the Calibrator first) before or after calling this, via EnterOperate/
// EnterSetup, so that a failed calibration never leaves the controller in
// an inconsistent state (spec.md §4.2, §7).
func (c *Controller) UpdateOperationSettings(patch OperationSettingsPatch) assemble.OperationSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	if patch.FocusAssist != nil {
		if *patch.FocusAssist {
			c.sub = SubFocusAssist
		} else if c.sub == SubFocusAssist {
			c.sub = SubNone
		}
	}
	if patch.Daylight != nil {
		if *patch.Daylight {
			c.sub = SubDaylight
		} else if c.sub == SubDaylight {
			c.sub = SubNone
		}
	}
	if patch.DesiredStarCount != nil {
		c.desiredStarCount = *patch.DesiredStarCount
	}
	if patch.SolveSigma != nil {
		c.solveSigma = *patch.SolveSigma
	}
	if patch.UpdateIntervalMS != nil {
		c.updateIntervalMS = *patch.UpdateIntervalMS
	}
	if patch.DwellIntervalMS != nil {
		c.dwellIntervalMS = *patch.DwellIntervalMS
	}
	if patch.LogDwelledPositions != nil {
		c.logDwelledPositions = *patch.LogDwelledPositions
	}
	if patch.CatalogFilter != nil {
		c.catalogFilter = *patch.CatalogFilter
	}
	if patch.DemoImageName != nil {
		c.demoImageName = *patch.DemoImageName
	}
	return c.operationSettingsLocked()
}

// defaultSolverTolerance is used before the first successful calibration
// run has produced a measured p90*1.5 tolerance (spec.md §4.5).
const defaultSolverTolerance = 0.02

// PipelineInput implements pipeline.ModeSource: it converts the controller's
// locked state into the read-only snapshot the pipeline consults once per
// frame, without the pipeline package ever importing this one (spec.md §9:
// mode lives behind a narrow interface from the pipeline's point of view).
func (c *Controller) PipelineInput() pipeline.ModeInput {
	snap := c.Snapshot()

	policy := autoexp.PolicyPlateSolve
	switch snap.Sub {
	case SubFocusAssist:
		policy = autoexp.PolicyFocusAssist
	case SubDaylight:
		policy = autoexp.PolicyDaylight
	}

	tolerance := defaultSolverTolerance
	if snap.Calibration.Valid && snap.Calibration.SolverTolerance > 0 {
		tolerance = snap.Calibration.SolverTolerance
	}

	// Zenith-up rotation needs the current frame's solved RA/Dec and the
	// observer's sidereal time, neither of which exist yet at the point the
	// pipeline asks for mode input (this runs before detect/solve). Left at
	// 0 here; a future frame-aware assembler call could thread the prior
	// solution's position angle through instead.
	var zenithRoll float64

	var boresightX, boresightY float64
	if snap.Boresight != nil {
		boresightX, boresightY = snap.Boresight.OffsetXPixels, snap.Boresight.OffsetYPixels
	}

	return pipeline.ModeInput{
		Policy: policy,
		ModeSnap: assemble.ModeSnapshot{
			Setup:            snap.Primary == Setup,
			FocusAssist:      snap.Sub == SubFocusAssist,
			Daylight:         snap.Sub == SubDaylight,
			HasBoresight:     snap.Boresight != nil,
			HaveObserver:     snap.Observer.Have,
			ZenithRollDeg:    zenithRoll,
			BoresightXPixels: boresightX,
			BoresightYPixels: boresightY,
			ObserverLatDeg:   snap.Observer.LatitudeDeg,
			ObserverLonDeg:   snap.Observer.LongitudeDeg,
			Fixed:            snap.Fixed,
			Operation:        snap.Operation,
		},
		SolverMinStars:  solve.MinStarsToSolve,
		SolverTolerance: tolerance,
	}
}
