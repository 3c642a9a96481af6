package camera

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubDriver struct {
	width, height int
	openErr       error
	captureErr    error
	frame         Frame
	closed        bool
	lastExposure  time.Duration
}

func (s *stubDriver) Open(ctx context.Context) (int, int, error) {
	return s.width, s.height, s.openErr
}
func (s *stubDriver) SetExposure(ctx context.Context, d time.Duration) error {
	s.lastExposure = d
	return nil
}
func (s *stubDriver) SetGain(ctx context.Context, gain float64) error     { return nil }
func (s *stubDriver) SetOffset(ctx context.Context, offset int) error     { return nil }
func (s *stubDriver) Capture(ctx context.Context) (Frame, error)          { return s.frame, s.captureErr }
func (s *stubDriver) Close() error                                       { s.closed = true; return nil }

func TestExposureLadderBounded(t *testing.T) {
	ladder := ExposureLadder(200 * time.Millisecond)
	for _, v := range ladder {
		if v > 200*time.Millisecond {
			t.Fatalf("ladder rung %v exceeds max", v)
		}
	}
	if len(ladder) == 0 {
		t.Fatal("expected non-empty ladder")
	}
}

func TestNearestLadderIndexSaturatesAtEnds(t *testing.T) {
	max := 100 * time.Millisecond
	if got := NearestLadderIndex(1*time.Millisecond, max); got != ExposureLadder(max)[0] {
		t.Fatalf("expected clamp to smallest rung, got %v", got)
	}
	ladder := ExposureLadder(max)
	if got := NearestLadderIndex(10*time.Second, max); got != ladder[len(ladder)-1] {
		t.Fatalf("expected clamp to largest rung, got %v", got)
	}
}

func TestFacadeOpenSetsGeometryAndConnected(t *testing.T) {
	drv := &stubDriver{width: 640, height: 480}
	f := New(drv)
	if err := f.Open(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w, h := f.Geometry()
	if w != 640 || h != 480 {
		t.Fatalf("expected 640x480, got %dx%d", w, h)
	}
	if !f.Connected() {
		t.Fatal("expected Connected() true after Open")
	}
}

func TestFacadeOpenFaultIsDisconnect(t *testing.T) {
	drv := &stubDriver{openErr: errors.New("no hardware")}
	f := New(drv)
	err := f.Open(context.Background())
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *Fault, got %v", err)
	}
	if fault.Kind != FaultDisconnect {
		t.Fatalf("expected FaultDisconnect, got %v", fault.Kind)
	}
}

func TestFacadeCaptureAssignsMonotonicIDs(t *testing.T) {
	drv := &stubDriver{width: 10, height: 10}
	f := New(drv)
	if err := f.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := f.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	second, err := f.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected increasing frame ids, got %d then %d", first.ID, second.ID)
	}
}

func TestFacadeRequestExposureAppliedOnNextCapture(t *testing.T) {
	drv := &stubDriver{width: 10, height: 10}
	f := New(drv)
	if err := f.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	f.RequestExposure(250 * time.Millisecond)
	if _, err := f.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if drv.lastExposure != 250*time.Millisecond {
		t.Fatalf("expected driver to receive requested exposure, got %v", drv.lastExposure)
	}
	if f.CurrentExposure() != 250*time.Millisecond {
		t.Fatalf("expected CurrentExposure to reflect applied change, got %v", f.CurrentExposure())
	}
}

func TestFacadeCaptureTransientFaultKeepsConnected(t *testing.T) {
	drv := &stubDriver{width: 10, height: 10, captureErr: errors.New("sensor hiccup")}
	f := New(drv)
	if err := f.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.Capture(context.Background()); err == nil {
		t.Fatal("expected capture error")
	}
	if !f.Connected() {
		t.Fatal("transient capture fault should not mark camera disconnected")
	}
}
