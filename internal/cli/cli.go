// Package cli wires the boresight command-line entry points: starting the
// frame server and telescope emulation front end, running calibration from
// the command line, and inspecting configuration. Grounded on photonic's
// internal/cli/cli.go Root-struct-plus-cobra shape, trimmed to this domain's
// much smaller command surface (photonic's scan/timelapse/panoramic/stack/
// raw/agent/web commands have no equivalent here — see DESIGN.md).
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"boresight/internal/calibrate"
	"boresight/internal/config"
	"boresight/internal/mode"
	"boresight/internal/pipeline"
	"boresight/internal/prefs"
	"boresight/internal/server"
	"boresight/internal/slew"
	"boresight/internal/storage"
	"boresight/internal/telescope"
)

// Root wires CLI commands to the running server components.
type Root struct {
	cfg        *config.Config
	log        *slog.Logger
	store      *storage.Store
	engine     *pipeline.Engine
	mode       *mode.Controller
	prefsStore *prefs.Store
	calib      *calibrate.Runner
	slewSup    *slew.Supervisor

	restart bool
}

// NewRoot constructs the CLI root. Any of calib/store may be nil in a demo
// build without hardware; commands that need them report a clear error.
func NewRoot(cfg *config.Config, log *slog.Logger, store *storage.Store, engine *pipeline.Engine, modeCtl *mode.Controller, prefsStore *prefs.Store, calib *calibrate.Runner, slewSup *slew.Supervisor) *Root {
	return &Root{cfg: cfg, log: log, store: store, engine: engine, mode: modeCtl, prefsStore: prefsStore, calib: calib, slewSup: slewSup}
}

// Restart reports whether the most recent runServe call ended because of a
// restart_server action rather than a shutdown_server action or signal, so
// main can decide whether to exit with a restart-requesting status.
func (r *Root) Restart() bool { return r.restart }

// runServe starts the frame server and telescope emulation server together,
// blocking until the process receives SIGINT/SIGTERM or an initiate_action
// shutdown_server/restart_server RPC.
func (r *Root) runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	onShutdown := func(restart bool) {
		r.restart = restart
		r.log.Info("server shutdown requested", "restart", restart)
		cancel()
	}

	frameSrv := server.New(r.cfg.FrameAddr(), r.engine, r.mode, r.prefsStore, r.store, r.slewSup, r.calib, onShutdown, r.log)
	teleSrv := telescope.New(r.cfg.TelescopeAddr(), r.engine, r.mode, r.slewSup, r.log)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := frameSrv.Start(ctx); err != nil {
			errCh <- fmt.Errorf("frame server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			<-ctx.Done()
			teleSrv.Close()
		}()
		if err := teleSrv.Start(); err != nil {
			errCh <- fmt.Errorf("telescope server: %w", err)
		}
	}()

	go func() {
		wg.Wait()
		close(errCh)
	}()

	var firstErr error
	for err := range errCh {
		if firstErr == nil {
			firstErr = err
		}
		r.log.Error("server component stopped with error", "error", err)
	}
	return firstErr
}

// runCalibrate triggers a single foreground calibration pass and reports the
// outcome. Intended for bring-up/diagnostics rather than routine operation,
// where calibration is normally triggered by update_operation_settings's
// operate=true transition.
func (r *Root) runCalibrate(ctx context.Context) error {
	if r.calib == nil {
		return fmt.Errorf("calibration runner unavailable in this build")
	}
	if !r.mode.BeginCalibration() {
		return fmt.Errorf("calibration already in progress")
	}
	result, err := r.calib.Run(ctx, r.mode.UpdateCalibrationProgress)
	if err != nil {
		r.mode.FailCalibration(err.Error())
		return fmt.Errorf("calibration run: %w", err)
	}
	if !result.OK {
		r.mode.FailCalibration(string(result.Reason))
		fmt.Printf("calibration failed: %s\n", result.Reason)
		return nil
	}
	r.mode.FinishCalibration(result.Data)
	fmt.Printf("calibration succeeded: fov=%.3fdeg arcsec/px=%.3f tolerance=%.3f\n",
		result.Data.FOVDeg, result.Data.ArcsecPerPixel, result.Data.SolverTolerance)
	return nil
}
