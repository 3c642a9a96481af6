package slew

import (
	"math"
	"testing"

	"boresight/internal/solve"
)

func TestNewRequestAssignsUUID(t *testing.T) {
	r := NewRequest(10, 20)
	if r.ID == "" {
		t.Fatal("expected a non-empty request id")
	}
	if r.TargetRA != 10 || r.TargetDec != 20 {
		t.Fatalf("expected target to round-trip, got %v/%v", r.TargetRA, r.TargetDec)
	}
}

func TestDeriveZeroDistanceWhenOnTarget(t *testing.T) {
	req := NewRequest(100, 20)
	sol := solve.Solution{CenterRA: 100, CenterDec: 20, ArcsecPerPixel: 1.8}
	off := Derive(req, sol, 640, 640, 320, 320)
	if off.DistanceDeg > 1e-9 {
		t.Fatalf("expected ~0 distance when target equals current center, got %v", off.DistanceDeg)
	}
	if off.ImageX != 320 || off.ImageY != 320 {
		t.Fatalf("expected target to fall exactly on the boresight, got %v/%v", off.ImageX, off.ImageY)
	}
	if !off.InFrame {
		t.Fatal("expected on-target offset to be in frame")
	}
}

func TestDeriveOutOfFrameWhenFarAway(t *testing.T) {
	req := NewRequest(200, 20)
	sol := solve.Solution{CenterRA: 100, CenterDec: 20, ArcsecPerPixel: 1.8}
	off := Derive(req, sol, 640, 640, 320, 320)
	if off.InFrame {
		t.Fatal("expected a 100-degree-distant target to fall outside the frame")
	}
	if off.ImageX != -1 || off.ImageY != -1 {
		t.Fatalf("expected (-1,-1) sentinel for out-of-frame target, got %v/%v", off.ImageX, off.ImageY)
	}
}

func TestDeriveZeroArcsecPerPixelSentinels(t *testing.T) {
	req := NewRequest(101, 21)
	sol := solve.Solution{CenterRA: 100, CenterDec: 20, ArcsecPerPixel: 0}
	off := Derive(req, sol, 640, 640, 320, 320)
	if off.ImageX != -1 || off.ImageY != -1 {
		t.Fatalf("expected (-1,-1) when plate scale is unknown, got %v/%v", off.ImageX, off.ImageY)
	}
}

func TestDeriveMountAxisRAIsUnscaledDelta(t *testing.T) {
	req := NewRequest(180.5, 30)
	sol := solve.Solution{CenterRA: 180, CenterDec: 30, ArcsecPerPixel: 1.8}
	off := Derive(req, sol, 640, 640, 320, 320)

	if math.Abs(off.DistanceDeg-0.433) > 1e-3 {
		t.Fatalf("expected target_distance ~0.433deg, got %v", off.DistanceDeg)
	}
	if math.Abs(off.MountAxisRA-0.5) > 1e-6 {
		t.Fatalf("expected offset_rotation_axis ~+0.5deg (unscaled RA delta), got %v", off.MountAxisRA)
	}
	if math.Abs(off.MountAxisDec) > 1e-9 {
		t.Fatalf("expected offset_tilt_axis ~0deg, got %v", off.MountAxisDec)
	}
}

func TestSupervisorHoldsAtMostOneActiveRequest(t *testing.T) {
	sup := NewSupervisor()
	if _, _, ok := sup.Active(); ok {
		t.Fatal("expected no active request on a fresh supervisor")
	}

	first := NewRequest(10, 20)
	sup.Start(first)
	req, _, ok := sup.Active()
	if !ok || req.ID != first.ID {
		t.Fatalf("expected the first request to be active, got %+v ok=%v", req, ok)
	}

	second := NewRequest(30, 40)
	sup.Start(second)
	req, _, ok = sup.Active()
	if !ok || req.ID != second.ID {
		t.Fatalf("expected starting a new request to replace the first, got %+v ok=%v", req, ok)
	}

	sup.Stop()
	if _, _, ok := sup.Active(); ok {
		t.Fatal("expected stop_slew to clear the active request")
	}
}

func TestSupervisorUpdateRefreshesOffset(t *testing.T) {
	sup := NewSupervisor()
	sup.Start(NewRequest(100, 20))
	sol := solve.Solution{CenterRA: 100, CenterDec: 20, ArcsecPerPixel: 1.8}
	sup.Update(sol, 640, 640, 320, 320)

	_, off, ok := sup.Active()
	if !ok {
		t.Fatal("expected an active request after Start")
	}
	if off.DistanceDeg > 1e-9 {
		t.Fatalf("expected ~0 distance once the solution matches the target, got %v", off.DistanceDeg)
	}
}

func TestDeriveDistanceMatchesSeparation(t *testing.T) {
	req := NewRequest(101, 20)
	sol := solve.Solution{CenterRA: 100, CenterDec: 20, ArcsecPerPixel: 1.8}
	off := Derive(req, sol, 640, 640, 320, 320)
	expected := math.Cos(deg2rad(20)) * 1.0
	if math.Abs(off.DistanceDeg-expected) > 0.01 {
		t.Fatalf("expected ~%.4f deg distance, got %v", expected, off.DistanceDeg)
	}
}
