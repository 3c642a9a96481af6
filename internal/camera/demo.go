package camera

import (
	"bufio"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"

	"boresight/internal/fsutil"
)

// DemoDriver implements Driver by replaying a directory of demo frame
// images in a loop, so the server and its tests run without real camera
// hardware (SPEC_FULL.md §6 ambient collaborator). Grounded on photonic's
// fs_watcher.go directory-scan idiom, generalized from "watch for new
// photos" to "replay a fixed directory as a capture source."
type DemoDriver struct {
	mu        sync.Mutex
	dir       string
	files     []string
	idx       int
	width     int
	height    int
	exposure  time.Duration
	offset    int
	gain      float64
}

// NewDemoDriver records dir without reading it. Open scans it for demo
// frames, so the directory may be empty or missing at construction time;
// frames added after Open are not picked up.
func NewDemoDriver(dir string) *DemoDriver {
	return &DemoDriver{dir: dir, exposure: 100 * time.Millisecond}
}

func (d *DemoDriver) Open(ctx context.Context) (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	files, err := fsutil.ListDemoFrames(d.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("scan demo dir: %w", err)
	}
	d.files = files
	if len(files) == 0 {
		// A sensible default geometry so Capture can still synthesize
		// blank frames when no demo images are present yet.
		d.width, d.height = 640, 480
		return d.width, d.height, nil
	}
	w, h, err := decodeDimensions(files[0])
	if err != nil {
		return 0, 0, err
	}
	d.width, d.height = w, h
	return w, h, nil
}

func (d *DemoDriver) SetExposure(ctx context.Context, dur time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exposure = dur
	return nil
}

func (d *DemoDriver) SetGain(ctx context.Context, gain float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gain = gain
	return nil
}

func (d *DemoDriver) SetOffset(ctx context.Context, offset int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offset = offset
	return nil
}

func (d *DemoDriver) Capture(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.files) == 0 {
		return Frame{
			CaptureAt: time.Now(),
			Width:     d.width,
			Height:    d.height,
			Pixels:    make([]byte, d.width*d.height),
			Exposure:  d.exposure,
			Offset:    d.offset,
			Gain:      d.gain,
		}, nil
	}

	path := d.files[d.idx%len(d.files)]
	d.idx++

	pixels, w, h, err := decodeGray(path)
	if err != nil {
		return Frame{}, &Fault{Kind: FaultTransient, Err: err}
	}
	applyOffsetGain(pixels, d.offset, d.gain)

	return Frame{
		CaptureAt: time.Now(),
		Width:     w,
		Height:    h,
		Pixels:    pixels,
		Exposure:  d.exposure,
		Offset:    d.offset,
		Gain:      d.gain,
	}, nil
}

func (d *DemoDriver) Close() error { return nil }

func decodeDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func decodeGray(path string) ([]byte, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()
	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, 0, 0, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pixels := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			gray := (299*r + 587*g + 114*bl) / 1000
			pixels[y*w+x] = byte(gray >> 8)
		}
	}
	return pixels, w, h, nil
}

func applyOffsetGain(pixels []byte, offset int, gain float64) {
	if offset == 0 && gain == 0 {
		return
	}
	for i, p := range pixels {
		v := float64(p) + float64(offset)/16.0
		if gain > 0 {
			v *= gain
		}
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		pixels[i] = byte(v)
	}
}
