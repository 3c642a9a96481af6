// Package camera defines the raw-frame producer contract (spec.md §3, §6)
// and a facade that owns exposure/gain/offset knobs and monotonic frame ids.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Frame is an immutable raw capture. Pixels are 8-bit linear intensity,
// row-major, monochrome (color sensors deliver raw Bayer treated as
// monochrome by this layer; the detect stage handles binning/hot pixels).
type Frame struct {
	ID        uint64
	CaptureAt time.Time
	Width     int
	Height    int
	Binning   int // always 1 for the raw frame
	Pixels    []byte
	Exposure  time.Duration
	Offset    int
	Gain      float64
}

// FaultKind enumerates camera-side error kinds (spec.md §7).
type FaultKind int

const (
	// FaultTransient is a single dropped frame; retried within the pipeline.
	FaultTransient FaultKind = iota
	// FaultDisconnect is fatal for capture until a reconnect succeeds.
	FaultDisconnect
)

// Fault carries a typed camera error across the pipeline/mode boundary.
type Fault struct {
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string { return fmt.Sprintf("camera fault (%v): %v", f.Kind, f.Err) }
func (f *Fault) Unwrap() error { return f.Err }

// Driver is the external collaborator contract (spec.md §6): a raw
// monochrome frame producer. Implementations are not part of the core; the
// core only consumes this interface.
type Driver interface {
	Open(ctx context.Context) (width, height int, err error)
	SetExposure(ctx context.Context, d time.Duration) error
	SetGain(ctx context.Context, gain float64) error
	SetOffset(ctx context.Context, offset int) error
	Capture(ctx context.Context) (Frame, error)
	Close() error
}

// ladderMs is the fixed geometric exposure-time ladder (spec.md §4.3): six
// values per decade, then ×10 per decade, expressed in milliseconds.
var ladderMs = []int64{10, 15, 20, 35, 50, 75}

// ExposureLadder returns the selectable exposure times up to max, inclusive.
// Index 0 of the returned slice is always the smallest ladder rung; "0" from
// a client means auto and is handled by the caller, not by this function.
func ExposureLadder(max time.Duration) []time.Duration {
	var out []time.Duration
	maxMs := max.Milliseconds()
	for decade := int64(1); ; decade *= 10 {
		added := false
		for _, base := range ladderMs {
			v := base * decade
			if time.Duration(v)*time.Millisecond > max {
				break
			}
			out = append(out, time.Duration(v)*time.Millisecond)
			added = true
		}
		if !added || decade > maxMs*10 {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, max)
	}
	return out
}

// NearestLadderIndex clamps a requested exposure to the ladder by rounding
// down to the largest rung not above it, saturating at both ends (spec.md
// §8 boundary behavior).
func NearestLadderIndex(requested time.Duration, max time.Duration) time.Duration {
	ladder := ExposureLadder(max)
	if requested <= ladder[0] {
		return ladder[0]
	}
	best := ladder[len(ladder)-1]
	for _, v := range ladder {
		if v <= requested {
			best = v
		} else {
			break
		}
	}
	return best
}

// Facade owns a Driver and exposes it uniquely to the integrate worker
// (spec.md §5: "Camera: exclusively owned by the integrate worker").
type Facade struct {
	mu     sync.Mutex
	driver Driver
	width  int
	height int

	nextID   atomic.Uint64
	exposure atomic.Int64 // nanoseconds
	offset   atomic.Int64
	gain     atomic.Int64 // gain * 1e6, fixed point to keep it atomic

	connected atomic.Bool

	pending chan pendingParams
}

type pendingParams struct {
	exposure *time.Duration
	offset   *int
	gain     *float64
}

// New wraps a Driver. Open must be called before Capture.
func New(driver Driver) *Facade {
	f := &Facade{driver: driver, pending: make(chan pendingParams, 4)}
	f.exposure.Store(int64(100 * time.Millisecond))
	return f
}

// Open opens the underlying driver and records sensor geometry.
func (f *Facade) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, h, err := f.driver.Open(ctx)
	if err != nil {
		return &Fault{Kind: FaultDisconnect, Err: err}
	}
	f.width, f.height = w, h
	f.connected.Store(true)
	return nil
}

// Close releases the underlying driver.
func (f *Facade) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected.Store(false)
	return f.driver.Close()
}

// Connected reports whether the camera is currently usable.
func (f *Facade) Connected() bool { return f.connected.Load() }

// Geometry returns the sensor width/height established at Open.
func (f *Facade) Geometry() (int, int) { return f.width, f.height }

// RequestExposure submits a new exposure time, applied between captures
// (spec.md §5 ordering guarantee: visible no later than two captures after
// the commanding frame).
func (f *Facade) RequestExposure(d time.Duration) {
	select {
	case f.pending <- pendingParams{exposure: &d}:
	default:
	}
}

// RequestOffset submits a new sensor offset (black level), applied between captures.
func (f *Facade) RequestOffset(offset int) {
	select {
	case f.pending <- pendingParams{offset: &offset}:
	default:
	}
}

// RequestGain submits a new gain, applied between captures.
func (f *Facade) RequestGain(gain float64) {
	select {
	case f.pending <- pendingParams{gain: &gain}:
	default:
	}
}

// CurrentExposure returns the exposure time currently requested of the driver.
func (f *Facade) CurrentExposure() time.Duration {
	return time.Duration(f.exposure.Load())
}

// Capture applies any pending parameter changes, then captures one frame.
// Must only be called from the integrate worker goroutine.
func (f *Facade) Capture(ctx context.Context) (Frame, error) {
	f.drainPending(ctx)

	frame, err := f.driver.Capture(ctx)
	if err != nil {
		var fault *Fault
		if errors.As(err, &fault) {
			if fault.Kind == FaultDisconnect {
				f.connected.Store(false)
			}
			return Frame{}, fault
		}
		return Frame{}, &Fault{Kind: FaultTransient, Err: err}
	}
	frame.ID = f.nextID.Add(1)
	frame.Binning = 1
	return frame, nil
}

func (f *Facade) drainPending(ctx context.Context) {
	for {
		select {
		case p := <-f.pending:
			if p.exposure != nil {
				if err := f.driver.SetExposure(ctx, *p.exposure); err == nil {
					f.exposure.Store(int64(*p.exposure))
				}
			}
			if p.offset != nil {
				if err := f.driver.SetOffset(ctx, *p.offset); err == nil {
					f.offset.Store(int64(*p.offset))
				}
			}
			if p.gain != nil {
				if err := f.driver.SetGain(ctx, *p.gain); err == nil {
					f.gain.Store(int64(*p.gain * 1e6))
				}
			}
		default:
			return
		}
	}
}

// Reconnect attempts to reopen the driver after a disconnect fault. Intended
// to be called periodically by the pipeline engine's retry loop.
func (f *Facade) Reconnect(ctx context.Context) error {
	return f.Open(ctx)
}
