// Package detect turns a demosaiced/normalized frame into a list of star
// candidate centroids (spec.md §3, §4.1, §6).
package detect

import (
	"context"
	"math"

	"boresight/internal/camera"
)

// Star is one detected point-source candidate in image-pixel coordinates.
type Star struct {
	X, Y      float64 // centroid, 0,0 at top-left, sub-pixel
	Flux      float64 // background-subtracted integrated brightness
	Peak      float64 // peak pixel value, 0..1 normalized
	FWHM      float64 // pixels, 0 if not estimated
}

// Result is the Detect stage output (spec.md §3 "Detection result").
type Result struct {
	FrameID     uint64
	Stars       []Star
	Background  float64 // estimated sky background level, mean pixel value on the raw 0..255 scale
	SkyTooBright bool

	// PeakX/PeakY/PeakValue locate the single brightest pixel in the frame,
	// full-resolution coordinates, raw 0..255 scale. Only meaningful in
	// Focus-Assist (spec.md §3 "in Focus-Assist only — the brightest-spot
	// position and small crop").
	PeakX, PeakY int
	PeakValue    float64
}

// Detector is the external collaborator contract (spec.md §6).
type Detector interface {
	Detect(ctx context.Context, frame camera.Frame) (Result, error)
}

// brightSkyThreshold flags frames where the background is high enough that
// downstream solving is expected to fail outright (spec.md §8 scenario: bright sky).
const brightSkyThreshold = 0.55

// Demo is a synthetic centroid finder: background-subtract via the plain
// (unclipped) mean and standard deviation of all pixels, then threshold and
// connected-component peak-find.
// Grounded on the peak-extraction-over-background-subtracted-threshold shape
// used by the retrieval pack's observerly/skysolve solver front end.
type Demo struct {
	// Threshold is the number of background-sigma above mean a pixel must
	// exceed to seed a star candidate.
	Threshold float64
	// MaxStars caps how many candidates are returned, strongest first.
	MaxStars int
}

// NewDemo returns a Demo detector with reasonable defaults.
func NewDemo() *Demo {
	return &Demo{Threshold: 5.0, MaxStars: 200}
}

func (d *Demo) Detect(ctx context.Context, frame camera.Frame) (Result, error) {
	mean, sigma := backgroundStats(frame.Pixels)
	peakX, peakY, peakValue := findPeak(frame.Pixels, frame.Width, frame.Height)
	res := Result{
		FrameID:      frame.ID,
		Background:   mean,
		SkyTooBright: mean > brightSkyThreshold*255,
		PeakX:        peakX,
		PeakY:        peakY,
		PeakValue:    peakValue,
	}
	if res.SkyTooBright {
		return res, nil
	}

	cut := mean + d.Threshold*sigma
	w, h := frame.Width, frame.Height
	visited := make([]bool, len(frame.Pixels))

	type cand struct {
		sumX, sumY, sumF, peak float64
		n                      int
	}

	var stars []Star
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			idx := y*w + x
			if visited[idx] {
				continue
			}
			v := float64(frame.Pixels[idx])
			if v < cut {
				continue
			}
			// flood-fill a small blob (4-neighborhood, bounded to avoid runaway)
			var c cand
			stack := []int{idx}
			visited[idx] = true
			for len(stack) > 0 && c.n < 400 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				pv := float64(frame.Pixels[p])
				if pv < cut {
					continue
				}
				px, py := p%w, p/w
				c.sumX += float64(px) * pv
				c.sumY += float64(py) * pv
				c.sumF += pv
				c.n++
				if pv > c.peak {
					c.peak = pv
				}
				for _, n := range []int{p - 1, p + 1, p - w, p + w} {
					if n < 0 || n >= len(frame.Pixels) || visited[n] {
						continue
					}
					nx := n % w
					if (n == p-1 || n == p+1) && math.Abs(float64(nx-px)) > 1 {
						continue
					}
					visited[n] = true
					stack = append(stack, n)
				}
			}
			if c.n == 0 || c.sumF == 0 {
				continue
			}
			stars = append(stars, Star{
				X:    c.sumX / c.sumF,
				Y:    c.sumY / c.sumF,
				Flux: c.sumF - mean*float64(c.n),
				Peak: c.peak / 255.0,
				FWHM: math.Sqrt(float64(c.n)) * 0.8,
			})
		}
	}

	// strongest-flux first, capped at MaxStars
	for i := 1; i < len(stars); i++ {
		for j := i; j > 0 && stars[j].Flux > stars[j-1].Flux; j-- {
			stars[j], stars[j-1] = stars[j-1], stars[j]
		}
	}
	if d.MaxStars > 0 && len(stars) > d.MaxStars {
		stars = stars[:d.MaxStars]
	}
	res.Stars = stars
	return res, nil
}

// findPeak locates the single brightest pixel by a plain argmax scan
// (spec.md §8 scenario 2 "center_peak_position"/"center_peak_value").
func findPeak(pixels []byte, width, height int) (x, y int, value float64) {
	best := -1.0
	for i, p := range pixels {
		v := float64(p)
		if v > best {
			best = v
			if width > 0 {
				x, y = i%width, i/width
			}
		}
	}
	if best < 0 {
		return 0, 0, 0
	}
	return x, y, best
}

func backgroundStats(pixels []byte) (mean, sigma float64) {
	if len(pixels) == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for _, p := range pixels {
		v := float64(p)
		sum += v
		sumSq += v * v
	}
	n := float64(len(pixels))
	mean = sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	sigma = math.Sqrt(variance)
	return mean, sigma
}
