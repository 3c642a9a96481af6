package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"boresight/internal/assemble"
	"boresight/internal/autoexp"
	"boresight/internal/camera"
	"boresight/internal/detect"
	"boresight/internal/motion"
	"boresight/internal/slew"
	"boresight/internal/solve"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type constDriver struct{}

func (constDriver) Open(ctx context.Context) (int, int, error) { return 8, 8, nil }
func (constDriver) SetExposure(ctx context.Context, d time.Duration) error { return nil }
func (constDriver) SetGain(ctx context.Context, g float64) error          { return nil }
func (constDriver) SetOffset(ctx context.Context, o int) error            { return nil }
func (constDriver) Capture(ctx context.Context) (camera.Frame, error) {
	return camera.Frame{Width: 8, Height: 8, Pixels: make([]byte, 64), Exposure: 100 * time.Millisecond}, nil
}
func (constDriver) Close() error { return nil }

type fixedDetector struct{ stars int }

func (d fixedDetector) Detect(ctx context.Context, frame camera.Frame) (detect.Result, error) {
	res := detect.Result{FrameID: frame.ID}
	for i := 0; i < d.stars; i++ {
		res.Stars = append(res.Stars, detect.Star{})
	}
	return res, nil
}

type fixedSolver struct{}

func (fixedSolver) Solve(ctx context.Context, d detect.Result, hint *solve.Hint) (solve.Solution, error) {
	return solve.Solution{FrameID: d.FrameID, CenterRA: 10, CenterDec: 20}, nil
}

type passthroughAssembler struct{}

func (passthroughAssembler) Assemble(ctx context.Context, frame camera.Frame, det detect.Result, sol *solve.Solution, solveErr error, mode assemble.ModeSnapshot, stageLatencies map[string]time.Duration) (assemble.FrameResult, error) {
	res := assemble.FrameResult{FrameID: frame.ID, StarCount: len(det.Stars)}
	if sol != nil {
		res.Solved = true
		res.Solution = sol
	}
	return res, nil
}

type fixedModeSource struct{ minStars int }

func (m fixedModeSource) PipelineInput() ModeInput {
	return ModeInput{Policy: autoexp.PolicyPlateSolve, SolverMinStars: m.minStars, SolverTolerance: 0.02}
}

func newTestEngine(stars, minStars int) *Engine {
	cam := camera.New(constDriver{})
	_ = cam.Open(context.Background())
	return New(cam, fixedDetector{stars: stars}, fixedSolver{}, passthroughAssembler{}, autoexp.New(autoexp.DefaultTarget()), fixedModeSource{minStars: minStars}, nil, slew.NewSupervisor(), motion.New(), nil, discardLogger())
}

func TestEngineWaitForNewerReceivesPublishedFrame(t *testing.T) {
	e := newTestEngine(10, solve.MinStarsToSolve)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	result, err := e.WaitForNewer(ctxWithTimeout(t, 3*time.Second), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Solved {
		t.Fatal("expected a solved result with enough stars")
	}
}

func TestEngineLatestNilBeforeFirstPublish(t *testing.T) {
	e := newTestEngine(10, solve.MinStarsToSolve)
	if e.Latest() != nil {
		t.Fatal("expected Latest() to be nil before Start")
	}
}

func TestEngineSkipsSolveBelowMinStars(t *testing.T) {
	e := newTestEngine(1, solve.MinStarsToSolve)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	result, err := e.WaitForNewer(ctxWithTimeout(t, 3*time.Second), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Solved {
		t.Fatal("expected solve to be skipped with too few stars")
	}
}

func ctxWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
