package detect

import (
	"context"
	"testing"

	"boresight/internal/camera"
)

func flatFrame(w, h int, level byte) camera.Frame {
	px := make([]byte, w*h)
	for i := range px {
		px[i] = level
	}
	return camera.Frame{ID: 1, Width: w, Height: h, Pixels: px}
}

func TestDetectFindsBrightBlobOverBackground(t *testing.T) {
	w, h := 20, 20
	frame := flatFrame(w, h, 10)
	cx, cy := 10, 10
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			frame.Pixels[(cy+dy)*w+(cx+dx)] = 250
		}
	}

	d := NewDemo()
	res, err := d.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SkyTooBright {
		t.Fatal("expected sky not flagged too bright for a dim background")
	}
	if len(res.Stars) != 1 {
		t.Fatalf("expected exactly one star candidate, got %d", len(res.Stars))
	}
	star := res.Stars[0]
	if star.X < float64(cx-1) || star.X > float64(cx+1) {
		t.Fatalf("expected centroid near x=%d, got %v", cx, star.X)
	}
	if star.Y < float64(cy-1) || star.Y > float64(cy+1) {
		t.Fatalf("expected centroid near y=%d, got %v", cy, star.Y)
	}
}

func TestDetectLocatesBrightestPixel(t *testing.T) {
	w, h := 20, 20
	frame := flatFrame(w, h, 10)
	frame.Pixels[7*w+13] = 230

	d := NewDemo()
	res, err := d.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PeakX != 13 || res.PeakY != 7 {
		t.Fatalf("expected peak at (13,7), got (%d,%d)", res.PeakX, res.PeakY)
	}
	if res.PeakValue != 230 {
		t.Fatalf("expected peak value 230, got %v", res.PeakValue)
	}
}

func TestDetectFlagsBrightSky(t *testing.T) {
	frame := flatFrame(10, 10, 250)
	d := NewDemo()
	res, err := d.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.SkyTooBright {
		t.Fatal("expected uniformly bright frame to be flagged sky-too-bright")
	}
	if len(res.Stars) != 0 {
		t.Fatalf("expected no stars reported once sky is flagged too bright, got %d", len(res.Stars))
	}
}

func TestDetectRespectsMaxStars(t *testing.T) {
	w, h := 40, 10
	frame := flatFrame(w, h, 5)
	for _, cx := range []int{5, 15, 25, 35 - 2} {
		frame.Pixels[5*w+cx] = 240
	}
	d := NewDemo()
	d.MaxStars = 2
	res, err := d.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Stars) > 2 {
		t.Fatalf("expected at most 2 stars, got %d", len(res.Stars))
	}
}
