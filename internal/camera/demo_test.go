package camera

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeTestPNG(t *testing.T, path string, w, h int, level uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: level})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create png: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

func TestDemoDriverOpenWithNoFramesUsesDefaultGeometry(t *testing.T) {
	d := NewDemoDriver(filepath.Join(t.TempDir(), "missing"))
	w, h, err := d.Open(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 640 || h != 480 {
		t.Fatalf("expected default 640x480 geometry, got %dx%d", w, h)
	}
	frame, err := d.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(frame.Pixels) != 640*480 {
		t.Fatalf("expected synthesized blank frame, got %d pixels", len(frame.Pixels))
	}
}

func TestDemoDriverReplaysFramesInLoop(t *testing.T) {
	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "a.png"), 16, 12, 100)

	d := NewDemoDriver(dir)
	w, h, err := d.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if w != 16 || h != 12 {
		t.Fatalf("expected 16x12 geometry from the demo file, got %dx%d", w, h)
	}

	first, err := d.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture 1: %v", err)
	}
	second, err := d.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture 2: %v", err)
	}
	if len(first.Pixels) != len(second.Pixels) {
		t.Fatalf("expected consistent frame size across loop replays")
	}
}

func TestApplyOffsetGainClampsRange(t *testing.T) {
	pixels := []byte{0, 128, 255}
	applyOffsetGain(pixels, 0, 2.0)
	if pixels[2] != 255 {
		t.Fatalf("expected clamp to 255, got %d", pixels[2])
	}
	if pixels[0] != 0 {
		t.Fatalf("expected 0*2=0, got %d", pixels[0])
	}
}

func TestApplyOffsetGainNoOpWhenZero(t *testing.T) {
	pixels := []byte{10, 20, 30}
	applyOffsetGain(pixels, 0, 0)
	if pixels[0] != 10 || pixels[1] != 20 || pixels[2] != 30 {
		t.Fatalf("expected no-op with zero offset/gain, got %v", pixels)
	}
}
