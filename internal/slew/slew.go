// Package slew implements the slew/goto supervisor: given a plate solution
// and a target sky position, it derives the angular distance, position
// angle, and mount-axis offsets needed to get there, plus the
// in-image-pixel location of the target for push-to guidance overlays
// (spec.md §3, §4.6, §6).
package slew

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"boresight/internal/solve"
)

// Request is a single slew/push-to request (spec.md §3 "Slew request").
type Request struct {
	ID         string
	TargetRA   float64
	TargetDec  float64
	RequestedAt time.Time
}

// NewRequest creates a Request with a fresh id (spec.md §9: non-frame
// identifiers are uuids, never the monotonic frame counter).
func NewRequest(targetRA, targetDec float64) Request {
	return Request{
		ID:          uuid.NewString(),
		TargetRA:    targetRA,
		TargetDec:   targetDec,
		RequestedAt: time.Now(),
	}
}

// Offset is the derived guidance for one request given a current plate solution.
type Offset struct {
	DistanceDeg     float64
	PositionAngleDeg float64 // east of north, degrees
	// MountAxisRA/MountAxisDec is the offset decomposed onto the mount's own
	// RA/Dec axes (what a push-to display usually wants), degrees.
	MountAxisRA, MountAxisDec float64
	// ImageX/ImageY is where the target falls in the current frame, in
	// pixels, or (-1,-1) if outside the frame.
	ImageX, ImageY float64
	InFrame        bool
}

// Derive computes the Offset for a request given the current solution.
// frameWidth/frameHeight/boresightX/boresightY locate the optical axis
// within the frame (spec.md §4.6's capture_boresight interaction): the
// target's image position is computed relative to the boresight, not
// necessarily the geometric frame center.
func Derive(req Request, sol solve.Solution, frameWidth, frameHeight int, boresightX, boresightY float64) Offset {
	// rawDRA is the literal hour-angle/RA delta the mount's RA axis must
	// rotate through; dRA is the same delta foreshortened by cos(dec) for
	// the sky-projected (and therefore image-pixel) separation. These are
	// deliberately different quantities: a mount-axis offset display wants
	// the former, the in-image projection wants the latter.
	rawDRA := angularDeltaDeg(req.TargetRA, sol.CenterRA)
	dRA := rawDRA * math.Cos(deg2rad(sol.CenterDec))
	dDec := req.TargetDec - sol.CenterDec

	off := Offset{
		DistanceDeg:      angularDistanceDeg(sol.CenterRA, sol.CenterDec, req.TargetRA, req.TargetDec),
		PositionAngleDeg: positionAngleDeg(sol.CenterRA, sol.CenterDec, req.TargetRA, req.TargetDec),
		MountAxisRA:       rawDRA,
		MountAxisDec:      dDec,
	}

	if sol.ArcsecPerPixel <= 0 {
		off.ImageX, off.ImageY = -1, -1
		return off
	}

	pixPerDeg := 3600.0 / sol.ArcsecPerPixel
	// Rotate the RA/Dec offset into image coordinates using the solved
	// roll angle, then add the boresight's pixel location as the origin.
	roll := deg2rad(sol.RollDeg)
	dx := dRA*pixPerDeg*math.Cos(roll) - dDec*pixPerDeg*math.Sin(roll)
	dy := dRA*pixPerDeg*math.Sin(roll) + dDec*pixPerDeg*math.Cos(roll)

	off.ImageX = boresightX + dx
	off.ImageY = boresightY + dy
	off.InFrame = off.ImageX >= 0 && off.ImageX < float64(frameWidth) && off.ImageY >= 0 && off.ImageY < float64(frameHeight)
	if !off.InFrame {
		off.ImageX, off.ImageY = -1, -1
	}
	return off
}

func angularDistanceDeg(ra1, dec1, ra2, dec2 float64) float64 {
	r1, d1 := deg2rad(ra1), deg2rad(dec1)
	r2, d2 := deg2rad(ra2), deg2rad(dec2)
	dra := r2 - r1
	ddec := d2 - d1
	a := math.Sin(ddec/2)*math.Sin(ddec/2) +
		math.Cos(d1)*math.Cos(d2)*math.Sin(dra/2)*math.Sin(dra/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return c * 180 / math.Pi
}

func positionAngleDeg(ra1, dec1, ra2, dec2 float64) float64 {
	r1, d1 := deg2rad(ra1), deg2rad(dec1)
	r2, d2 := deg2rad(ra2), deg2rad(dec2)
	dra := r2 - r1
	y := math.Sin(dra) * math.Cos(d2)
	x := math.Cos(d1)*math.Sin(d2) - math.Sin(d1)*math.Cos(d2)*math.Cos(dra)
	pa := math.Atan2(y, x) * 180 / math.Pi
	if pa < 0 {
		pa += 360
	}
	return pa
}

func angularDeltaDeg(a, b float64) float64 {
	d := math.Mod(a-b+540, 360) - 180
	return d
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

// Supervisor holds at most one active Request (spec.md §4.6 "Holds at most
// one active SlewRequest"), sourced from either the telescope-emulation
// protocol or a client initiate_slew, and refreshes its derived Offset on
// every solved frame.
type Supervisor struct {
	mu     sync.Mutex
	active *Request
	offset Offset
}

// NewSupervisor returns an empty Supervisor with no active request.
func NewSupervisor() *Supervisor { return &Supervisor{} }

// Start makes req the active request, replacing whatever was active
// before. Exactly one request is active at a time (spec.md §4.6).
func (s *Supervisor) Start(req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := req
	s.active = &cp
	s.offset = Offset{}
}

// Stop clears the active request (spec.md §3 "cleared by stop_slew").
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.offset = Offset{}
}

// Active returns the current request and its latest offset, and whether a
// request is active at all.
func (s *Supervisor) Active() (Request, Offset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Request{}, Offset{}, false
	}
	return *s.active, s.offset, true
}

// Update recomputes the active request's offset against a fresh plate
// solution, called once per solved frame (spec.md §4.6 "each new solved
// frame refreshes derived fields"). A no-op if no request is active.
func (s *Supervisor) Update(sol solve.Solution, frameWidth, frameHeight int, boresightX, boresightY float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return
	}
	s.offset = Derive(*s.active, sol, frameWidth, frameHeight, boresightX, boresightY)
}
