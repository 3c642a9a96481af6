// Package pipeline implements the five-stage imaging conveyor: integrate
// (capture) -> demosaic/normalize -> detect -> solve -> publish (spec.md
// §3, §4.1, §9). Stage handoffs are single-slot "latest wins" mailboxes,
// never buffered work queues: a slow downstream stage drops stale frames
// rather than building a backlog, which is the one place this package
// deliberately departs from photonic's buffered-channel job-queue style.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"boresight/internal/assemble"
	"boresight/internal/autoexp"
	"boresight/internal/camera"
	"boresight/internal/detect"
	"boresight/internal/logging"
	"boresight/internal/motion"
	"boresight/internal/prefs"
	"boresight/internal/slew"
	"boresight/internal/solve"
	"boresight/internal/stats"
	"boresight/internal/storage"
)

// StageName identifies a pipeline stage for logging and stats keys.
type StageName string

const (
	StageIntegrate StageName = "integrate"
	StageDemosaic  StageName = "demosaic"
	StageDetect    StageName = "detect"
	StageSolve     StageName = "solve"
	StagePublish   StageName = "publish"
)

// slot is a single-value "latest wins" mailbox: Put never blocks and
// always leaves the most recently put value behind, overwriting whatever
// was there before a reader took it.
type slot[T any] struct {
	mu  sync.Mutex
	has bool
	val T
	ch  chan struct{} // closed and replaced whenever a new value is put
}

func newSlot[T any]() *slot[T] {
	return &slot[T]{ch: make(chan struct{})}
}

func (s *slot[T]) Put(v T) {
	s.mu.Lock()
	s.val = v
	s.has = true
	old := s.ch
	s.ch = make(chan struct{})
	s.mu.Unlock()
	close(old)
}

// Take blocks until a value is available, then returns it. It always
// returns the most recent value at the time of waking, which may differ
// from the value that triggered the wakeup if a newer one has since
// arrived (that's the point: we never process stale work).
func (s *slot[T]) Take(ctx context.Context) (T, bool) {
	for {
		s.mu.Lock()
		if s.has {
			v := s.val
			s.has = false
			s.mu.Unlock()
			return v, true
		}
		waitCh := s.ch
		s.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// ModeInput is the subset of mode-controller state the pipeline needs on
// every frame, supplied by a callback so pipeline never imports internal/mode.
type ModeInput struct {
	Policy          autoexp.Policy
	ModeSnap        assemble.ModeSnapshot
	SolverMinStars  int
	SolverTolerance float64
}

// ModeSource supplies the pipeline with current mode-derived inputs. The
// mode controller implements this; pipeline only depends on the interface.
type ModeSource interface {
	PipelineInput() ModeInput
}

// Engine runs the five-stage conveyor. It owns the camera facade
// exclusively through the integrate stage and publishes a single
// continuously-overwritten FrameResult for the frame server to read.
type Engine struct {
	cam       *camera.Facade
	detector  detect.Detector
	solver    solve.Solver
	assembler assemble.Assembler
	autoexp   *autoexp.Controller
	mode      ModeSource
	store     *storage.Store
	log       *slog.Logger

	slewSup *slew.Supervisor
	motionA *motion.Analyzer
	prefs   *prefs.Store

	rawSlot    *slot[camera.Frame]
	normSlot   *slot[camera.Frame]
	detectSlot *slot[detectJob]

	latency map[StageName]*stats.Ring
	starCount *stats.Ring

	publishedMu sync.Mutex
	published   *assemble.FrameResult
	waitCh      chan struct{}

	lastSolution *solve.Solution

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type detectJob struct {
	frame camera.Frame
	det   detect.Result
}

// New wires the five stages together. Call Start to begin running.
func New(cam *camera.Facade, detector detect.Detector, solver solve.Solver, assembler assemble.Assembler, exp *autoexp.Controller, mode ModeSource, store *storage.Store, slewSup *slew.Supervisor, motionA *motion.Analyzer, prefsStore *prefs.Store, log *slog.Logger) *Engine {
	e := &Engine{
		cam:        cam,
		detector:   detector,
		solver:     solver,
		assembler:  assembler,
		autoexp:    exp,
		mode:       mode,
		store:      store,
		slewSup:    slewSup,
		motionA:    motionA,
		prefs:      prefsStore,
		log:        log,
		rawSlot:    newSlot[camera.Frame](),
		normSlot:   newSlot[camera.Frame](),
		detectSlot: newSlot[detectJob](),
		latency: map[StageName]*stats.Ring{
			StageIntegrate: stats.New(),
			StageDemosaic:  stats.New(),
			StageDetect:    stats.New(),
			StageSolve:     stats.New(),
			StagePublish:   stats.New(),
		},
		starCount: stats.New(),
		waitCh:    make(chan struct{}),
	}
	return e
}

// Start launches the stage goroutines: integrate, demosaic, and one shared
// detect/solve/publish goroutine.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(3)
	go e.runIntegrate(ctx)
	go e.runDemosaic(ctx)
	go e.runDetectSolvePublish(ctx)
}

// Stop cancels all stage goroutines and waits for them to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// runIntegrate captures frames as fast as the camera allows and hands the
// raw frame to the demosaic stage. This is the only goroutine permitted to
// touch the camera facade's Capture method (spec.md §5).
func (e *Engine) runIntegrate(ctx context.Context) {
	defer e.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		logging.LogStageEnter(e.log, string(StageIntegrate), 0)
		frame, err := e.cam.Capture(ctx)
		if err != nil {
			logging.LogStageError(e.log, string(StageIntegrate), 0, time.Since(start), err)
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}
		e.latency[StageIntegrate].Add(float64(time.Since(start).Microseconds()))
		e.rawSlot.Put(frame)
	}
}

// runDemosaic normalizes a raw frame (for a monochrome sensor this is a
// thin pass-through stage that still participates in stats/logging, per
// spec.md §4.1's five named stages) and hands it to detect.
func (e *Engine) runDemosaic(ctx context.Context) {
	defer e.wg.Done()
	for {
		frame, ok := e.rawSlot.Take(ctx)
		if !ok {
			return
		}
		start := time.Now()
		logging.LogStageEnter(e.log, string(StageDemosaic), frame.ID)
		normalized := normalize(frame)
		e.latency[StageDemosaic].Add(float64(time.Since(start).Microseconds()))
		e.normSlot.Put(normalized)
	}
}

// normalize is a no-op placeholder for a real debayer/flat-field step; the
// demo camera already delivers flat monochrome frames.
func normalize(f camera.Frame) camera.Frame { return f }

// runDetectSolvePublish runs detect, solve, and publish as one goroutine:
// these three stages share the same single-slot handoff discipline but
// don't benefit from separate goroutines since solve latency already
// dominates and a dedicated detect goroutine would just add another
// single-slot hop with no concurrency gain over a CPU-bound chain.
func (e *Engine) runDetectSolvePublish(ctx context.Context) {
	defer e.wg.Done()
	for {
		frame, ok := e.normSlot.Take(ctx)
		if !ok {
			return
		}
		e.processFrame(ctx, frame)
	}
}

func (e *Engine) processFrame(ctx context.Context, frame camera.Frame) {
	input := e.mode.PipelineInput()

	start := time.Now()
	logging.LogStageEnter(e.log, string(StageDetect), frame.ID)
	det, err := e.detector.Detect(ctx, frame)
	detDur := time.Since(start)
	e.latency[StageDetect].Add(float64(detDur.Microseconds()))
	if err != nil {
		logging.LogStageError(e.log, string(StageDetect), frame.ID, detDur, err)
		return
	}
	logging.LogStageExit(e.log, string(StageDetect), frame.ID, detDur, map[string]any{"stars": len(det.Stars)})
	e.starCount.Add(float64(len(det.Stars)))

	minStars := input.SolverMinStars
	if minStars <= 0 {
		minStars = solve.MinStarsToSolve
	}

	var solution *solve.Solution
	var solveErr error

	if det.SkyTooBright {
		solveErr = &solve.Failure{Reason: solve.BrightSky}
	} else if len(det.Stars) < minStars {
		// Skip policy (spec.md §4.1): don't even call the solver when there
		// are clearly too few candidates to succeed.
		solveErr = &solve.Failure{Reason: solve.TooFewStars}
	} else {
		solveStart := time.Now()
		logging.LogStageEnter(e.log, string(StageSolve), frame.ID)
		var hint *solve.Hint
		if e.lastSolution != nil {
			hint = &solve.Hint{LastSolution: e.lastSolution}
		}
		sol, err := e.solver.Solve(ctx, det, hint)
		solveDur := time.Since(solveStart)
		e.latency[StageSolve].Add(float64(solveDur.Microseconds()))
		if err != nil {
			logging.LogStageError(e.log, string(StageSolve), frame.ID, solveDur, err)
			solveErr = err
		} else {
			logging.LogStageExit(e.log, string(StageSolve), frame.ID, solveDur, map[string]any{"center_ra": sol.CenterRA, "center_dec": sol.CenterDec})
			solution = &sol
			e.lastSolution = &sol
		}
	}

	if e.store != nil {
		rec := storage.SolveOutcomeRecord{
			FrameID:   frame.ID,
			OK:        solution != nil,
			StarCount: len(det.Stars),
		}
		if solution != nil {
			rec.CenterRA = solution.CenterRA
			rec.CenterDec = solution.CenterDec
			rec.SolveMS = solution.SolveTime.Milliseconds()
		}
		if f, ok := solve.AsFailure(solveErr); ok {
			rec.FailureReason = string(f.Reason)
		}
		_ = e.store.RecordSolveOutcome(rec)
	}

	pubStart := time.Now()
	result, err := e.assembler.Assemble(ctx, frame, det, solution, solveErr, input.ModeSnap, e.latencySnapshotMillis())
	if err != nil {
		logging.LogStageError(e.log, string(StagePublish), frame.ID, time.Since(pubStart), err)
		return
	}
	e.latency[StagePublish].Add(float64(time.Since(pubStart).Microseconds()))
	logging.LogStageExit(e.log, string(StagePublish), frame.ID, time.Since(pubStart), nil)

	e.attachDerived(&result, frame, solution)

	e.publish(&result)

	next := e.autoexp.Next(input.Policy, frame.Exposure, len(det.Stars), det.SkyTooBright)
	if next != frame.Exposure {
		e.cam.RequestExposure(next)
	}
}

// attachDerived mutates result with the motion analyzer's advice, the slew
// supervisor's active offset, and the current preferences record, after
// Assemble has already built the rest of the snapshot. Kept as a
// post-assembly mutation rather than new Assembler interface parameters so
// the existing assembler fakes/stubs don't need to change (spec.md §4.5,
// §4.6, §4.7).
func (e *Engine) attachDerived(result *assemble.FrameResult, frame camera.Frame, solution *solve.Solution) {
	if solution != nil && e.motionA != nil {
		e.motionA.Add(motion.Sample{At: frame.CaptureAt, RA: solution.CenterRA, Dec: solution.CenterDec})
	}
	if e.motionA != nil {
		adv := e.motionA.Advise(time.Now(), result.Mode.ObserverLatDeg, result.Mode.ObserverLonDeg, result.Mode.HaveObserver)
		result.Motion = &adv
	}

	if e.slewSup != nil {
		if solution != nil {
			bx, by := result.Mode.BoresightXPixels, result.Mode.BoresightYPixels
			if !result.Mode.HasBoresight {
				bx, by = float64(frame.Width)/2, float64(frame.Height)/2
			}
			e.slewSup.Update(*solution, frame.Width, frame.Height, bx, by)
		}
		if req, off, ok := e.slewSup.Active(); ok {
			result.SlewRequest = &assemble.SlewSnapshot{Request: req, Offset: off}
		}
	}

	if e.prefs != nil {
		result.Preferences = e.prefs.Get()
	}
}

// publish replaces the current FrameResult and wakes every long-poll waiter.
func (e *Engine) publish(result *assemble.FrameResult) {
	e.publishedMu.Lock()
	e.published = result
	old := e.waitCh
	e.waitCh = make(chan struct{})
	e.publishedMu.Unlock()
	close(old)
}

// Latest returns the most recently published result, or nil if nothing has
// been published yet.
func (e *Engine) Latest() *assemble.FrameResult {
	e.publishedMu.Lock()
	defer e.publishedMu.Unlock()
	return e.published
}

// WaitForNewer blocks until a frame newer than sinceFrameID is published,
// or ctx is done, implementing the get_frame long-poll semantics (spec.md
// §4.8, §6).
func (e *Engine) WaitForNewer(ctx context.Context, sinceFrameID uint64) (*assemble.FrameResult, error) {
	for {
		e.publishedMu.Lock()
		cur := e.published
		waitCh := e.waitCh
		e.publishedMu.Unlock()

		if cur != nil && cur.FrameID > sinceFrameID {
			return cur, nil
		}
		select {
		case <-waitCh:
		case <-ctx.Done():
			return cur, ctx.Err()
		}
	}
}

// TryLatest returns the most recently published result without blocking,
// reporting ok=false when nothing newer than sinceFrameID has been
// published yet (spec.md §4.8 "non_blocking": the caller gets an immediate
// has_result:false reply instead of waiting).
func (e *Engine) TryLatest(sinceFrameID uint64) (*assemble.FrameResult, bool) {
	e.publishedMu.Lock()
	cur := e.published
	e.publishedMu.Unlock()
	if cur != nil && cur.FrameID > sinceFrameID {
		return cur, true
	}
	return cur, false
}

// LatencySnapshot exposes per-stage latency statistics (microseconds) for
// the stats/status surface.
func (e *Engine) LatencySnapshot() map[StageName]stats.Snapshot {
	out := make(map[StageName]stats.Snapshot, len(e.latency))
	for k, v := range e.latency {
		out[k] = v.Snapshot()
	}
	return out
}

// StarCountSnapshot exposes the rolling/session detected-star-count stats.
func (e *Engine) StarCountSnapshot() stats.Snapshot {
	return e.starCount.Snapshot()
}

func (e *Engine) latencySnapshotMillis() map[string]time.Duration {
	out := make(map[string]time.Duration, len(e.latency))
	for k, v := range e.latency {
		snap := v.Snapshot()
		out[string(k)] = time.Duration(snap.WindowMean) * time.Microsecond
	}
	return out
}
