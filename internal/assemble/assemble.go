// Package assemble builds the client-facing FrameResult from a captured
// frame, its detections, and its plate solution, applying the
// ImageMagick-backed display transform chain (spec.md §3, §4.7, §6).
package assemble

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gographics/imagick.v3/imagick"

	"boresight/internal/camera"
	"boresight/internal/detect"
	"boresight/internal/motion"
	"boresight/internal/prefs"
	"boresight/internal/slew"
	"boresight/internal/solve"
)

// ModeSnapshot is the minimal slice of mode-controller state the assembler
// needs, passed in rather than imported directly to avoid a package cycle
// (internal/mode does not need to know about FrameResult).
type ModeSnapshot struct {
	Setup        bool
	FocusAssist  bool
	Daylight     bool
	HasBoresight bool
	HaveObserver bool
	ZenithRollDeg float64 // roll angle that puts zenith "up" in the display, if known

	// BoresightXPixels/BoresightYPixels is the boresight's location in the
	// current frame, the origin slew offsets are computed relative to
	// (spec.md §4.6). Only meaningful if HasBoresight.
	BoresightXPixels, BoresightYPixels float64
	// ObserverLatDeg/ObserverLonDeg locate the site for alt/az and
	// polar-alignment derivations (spec.md §3 "Observer context"). Only
	// meaningful if HaveObserver.
	ObserverLatDeg, ObserverLonDeg float64

	Fixed     FixedSettings
	Operation OperationSettings
}

// FixedSettings is the always-present settings record returned by
// update_fixed_settings and echoed on every snapshot (spec.md §4.7, §6).
type FixedSettings struct {
	HasObserver   bool
	LatitudeDeg   float64
	LongitudeDeg  float64
	SessionName   string
	MaxExposureMS int64
}

// OperationSettings is the always-present settings record returned by
// update_operation_settings and echoed on every snapshot (spec.md §4.7, §6).
type OperationSettings struct {
	Operate             bool
	FocusAssist          bool
	Daylight             bool
	DesiredStarCount     int
	SolveSigma           float64
	UpdateIntervalMS     int64
	DwellIntervalMS      int64
	LogDwelledPositions  bool
	CatalogFilter        string
	DemoImageName        string
}

// ServerInformation is the always-present process-level status record
// (spec.md §4.7 "server_information ... always present").
type ServerInformation struct {
	Version         string
	CameraConnected bool
}

// SlewSnapshot mirrors the active slew request plus its latest derived
// offset, attached to a FrameResult once the slew supervisor has something
// active (spec.md §4.6).
type SlewSnapshot struct {
	Request slew.Request
	Offset  slew.Offset
}

// FrameResult is the published, read-only snapshot consumed by the frame
// server's get_frame RPC and the /debug/snapshot endpoint.
type FrameResult struct {
	// HasResult distinguishes a real snapshot from the placeholder returned
	// before the first frame is ever published (spec.md §4.8, §8 scenario 1).
	HasResult bool

	FrameID      uint64
	CaptureAt    time.Time
	Exposure     time.Duration
	StarCount    int
	Background   float64
	SkyTooBright bool

	Solved        bool
	FailureReason solve.FailureReason
	Solution      *solve.Solution

	DisplayImage  []byte
	DisplayFormat string

	FocusContrastRatio float64 // only meaningful in focus-assist mode
	// PeakX/PeakY/PeakValue mirror detect.Result's brightest-pixel fields,
	// only meaningful in focus-assist mode (spec.md §3, §8 scenario 2).
	PeakX, PeakY int
	PeakValue    float64

	Mode ModeSnapshot

	// ServerInformation, FixedSettings, Preferences, OperationSettings are
	// always present on a real snapshot (spec.md §4.7 invariant), filled in
	// by the pipeline engine after Assemble returns so the Assembler
	// interface itself stays free of settings-store plumbing.
	ServerInformation ServerInformation
	FixedSettings     FixedSettings
	Preferences       prefs.Preferences
	OperationSettings OperationSettings

	// Motion is the motion analyzer's latest dwell/mount-class/polar-align
	// advice, nil until enough history has accumulated (spec.md §4.5).
	Motion *motion.Advice
	// SlewRequest is the slew supervisor's active request and its
	// frame-relative offset, nil when no slew is active (spec.md §4.6).
	SlewRequest *SlewSnapshot

	StageLatencies map[string]time.Duration
	PublishedAt    time.Time
}

// Assembler is the Result assembler collaborator.
type Assembler interface {
	Assemble(ctx context.Context, frame camera.Frame, det detect.Result, sol *solve.Solution, solveErr error, mode ModeSnapshot, stageLatencies map[string]time.Duration) (FrameResult, error)
}

// ImageMagick is the production Assembler: it applies a central square
// crop, a bin-down resize to a UI-friendly size, a visibility stretch (or
// a small high-res crop + contrast measurement in focus-assist mode),
// zenith-up rotation when the observer location is known and the mode is
// not focus-assist/daylight, and a final gamma adjustment.
// Grounded on photonic's internal/tasks/imagemagick_processor.go MagickWand
// usage idiom.
type ImageMagick struct {
	// DisplaySize is the bin-down target's longest edge in pixels.
	DisplaySize int
	// Gamma is applied after the stretch (1.0 = no change).
	Gamma float64
	// FocusCropSize is the small high-res crop edge length used in
	// focus-assist mode.
	FocusCropSize int
}

// version is reported in every snapshot's ServerInformation.
const version = "boresight/0.1.0-dev"

// NewImageMagick returns an Assembler with reasonable UI-facing defaults.
func NewImageMagick() *ImageMagick {
	return &ImageMagick{DisplaySize: 640, Gamma: 1.1, FocusCropSize: 160}
}

func (a *ImageMagick) Assemble(ctx context.Context, frame camera.Frame, det detect.Result, sol *solve.Solution, solveErr error, mode ModeSnapshot, stageLatencies map[string]time.Duration) (FrameResult, error) {
	res := FrameResult{
		HasResult:      true,
		FrameID:        frame.ID,
		CaptureAt:      frame.CaptureAt,
		Exposure:       frame.Exposure,
		StarCount:      len(det.Stars),
		Background:     det.Background,
		SkyTooBright:   det.SkyTooBright,
		Mode:           mode,
		StageLatencies: stageLatencies,
		PublishedAt:    time.Now(),
		ServerInformation: ServerInformation{
			Version:         version,
			CameraConnected: true,
		},
		FixedSettings:     mode.Fixed,
		OperationSettings: mode.Operation,
	}

	if mode.FocusAssist {
		res.PeakX, res.PeakY, res.PeakValue = det.PeakX, det.PeakY, det.PeakValue
	}

	if sol != nil {
		res.Solved = true
		res.Solution = sol
	} else if f, ok := solve.AsFailure(solveErr); ok {
		res.FailureReason = f.Reason
	}

	img, format, contrast, err := a.transform(frame, mode)
	if err != nil {
		return res, fmt.Errorf("display transform: %w", err)
	}
	res.DisplayImage = img
	res.DisplayFormat = format
	res.FocusContrastRatio = contrast

	return res, nil
}

func (a *ImageMagick) transform(frame camera.Frame, mode ModeSnapshot) ([]byte, string, float64, error) {
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	pw := imagick.NewPixelWand()
	defer pw.Destroy()
	pw.SetColor("gray")

	if err := mw.ConstituteImage(uint(frame.Width), uint(frame.Height), "I", imagick.PIXEL_CHAR, frame.Pixels); err != nil {
		return nil, "", 0, fmt.Errorf("constitute image: %w", err)
	}

	var contrast float64

	if mode.FocusAssist {
		crop := a.FocusCropSize
		if crop > frame.Width {
			crop = frame.Width
		}
		if crop > frame.Height {
			crop = frame.Height
		}
		x := (frame.Width - crop) / 2
		y := (frame.Height - crop) / 2
		contrast = pixelContrastRatio(frame, x, y, crop, crop)
		if err := mw.CropImage(uint(crop), uint(crop), x, y); err != nil {
			return nil, "", 0, fmt.Errorf("focus crop: %w", err)
		}
	} else {
		side := frame.Width
		if frame.Height < side {
			side = frame.Height
		}
		x := (frame.Width - side) / 2
		y := (frame.Height - side) / 2
		if err := mw.CropImage(uint(side), uint(side), x, y); err != nil {
			return nil, "", 0, fmt.Errorf("square crop: %w", err)
		}

		if err := mw.ResizeImage(uint(a.DisplaySize), uint(a.DisplaySize), imagick.FILTER_LANCZOS); err != nil {
			return nil, "", 0, fmt.Errorf("resize: %w", err)
		}

		if mode.HaveObserver && !mode.Daylight {
			if err := mw.RotateImage(pw, mode.ZenithRollDeg); err != nil {
				return nil, "", 0, fmt.Errorf("zenith rotate: %w", err)
			}
		}

		if err := mw.ContrastStretchImage(0.02, 0.02); err != nil {
			return nil, "", 0, fmt.Errorf("stretch: %w", err)
		}
	}

	if a.Gamma > 0 && a.Gamma != 1.0 {
		if err := mw.GammaImage(a.Gamma); err != nil {
			return nil, "", 0, fmt.Errorf("gamma: %w", err)
		}
	}

	if err := mw.SetImageFormat("JPEG"); err != nil {
		return nil, "", 0, fmt.Errorf("set format: %w", err)
	}

	blob := mw.GetImageBlob()
	return blob, "jpeg", contrast, nil
}

// pixelContrastRatio computes (bright - dark) / bright over a rectangular
// region of the raw frame, used as a cheap focus-quality proxy (spec.md
// §4.7 focus-assist contrast ratio). Bounded in [0,1]: 0 for a perfectly
// flat region, 1 when the darkest pixel is zero.
func pixelContrastRatio(frame camera.Frame, x, y, w, h int) float64 {
	min, max := 255.0, 0.0
	for row := y; row < y+h && row < frame.Height; row++ {
		if row < 0 {
			continue
		}
		base := row * frame.Width
		for col := x; col < x+w && col < frame.Width; col++ {
			if col < 0 {
				continue
			}
			v := float64(frame.Pixels[base+col])
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	if max <= 0 {
		return 0
	}
	return (max - min) / max
}
