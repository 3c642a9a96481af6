package assemble

import (
	"testing"

	"boresight/internal/camera"
)

func TestPixelContrastRatio(t *testing.T) {
	w, h := 10, 10
	px := make([]byte, w*h)
	for i := range px {
		px[i] = 20
	}
	px[5*w+5] = 200
	frame := camera.Frame{Width: w, Height: h, Pixels: px}

	ratio := pixelContrastRatio(frame, 0, 0, w, h)
	if ratio != 0.9 {
		t.Fatalf("expected (200-20)/200=0.9, got %v", ratio)
	}
}

func TestPixelContrastRatioZeroForAllDarkRegion(t *testing.T) {
	w, h := 4, 4
	px := make([]byte, w*h) // all zero
	frame := camera.Frame{Width: w, Height: h, Pixels: px}

	ratio := pixelContrastRatio(frame, 0, 0, w, h)
	if ratio != 0 {
		t.Fatalf("expected 0 when the region has no bright pixel at all, got %v", ratio)
	}
}

func TestFrameResultDefaultsUnsolved(t *testing.T) {
	res := FrameResult{}
	if res.Solved {
		t.Fatal("expected zero-value FrameResult to be unsolved")
	}
	if res.Solution != nil {
		t.Fatal("expected zero-value FrameResult to carry no solution")
	}
}
