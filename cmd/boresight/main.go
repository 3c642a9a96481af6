// Command boresight starts the astrometry telescope-aiming server: the
// capture/detect/solve pipeline, the Frame RPC surface, and the LX200
// telescope emulation front end, wired together from internal/config.
package main

import (
	"context"
	"fmt"
	"os"

	"boresight/internal/assemble"
	"boresight/internal/autoexp"
	"boresight/internal/calibrate"
	"boresight/internal/camera"
	"boresight/internal/cli"
	"boresight/internal/config"
	"boresight/internal/detect"
	"boresight/internal/logging"
	"boresight/internal/mode"
	"boresight/internal/motion"
	"boresight/internal/pipeline"
	"boresight/internal/prefs"
	"boresight/internal/slew"
	"boresight/internal/solve"
	"boresight/internal/storage"
	"boresight/internal/watch"

	"gopkg.in/gographics/imagick.v3/imagick"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "boresight:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if cfg.Logging.FileOutput {
		if configured, err := logging.Setup(cfg); err != nil {
			log.Warn("file logging setup failed, continuing with stdout only", "error", err)
		} else {
			log = configured
		}
	}

	// photonic's processing code brackets every single conversion with its
	// own Initialize/Terminate pair; a long-running server instead does it
	// once at startup since the pipeline calls into ImageMagick continuously.
	imagick.Initialize()
	defer imagick.Terminate()

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	prefsStore := prefs.Open(cfg.Paths.PrefsPath)

	driver := camera.NewDemoDriver(cfg.Paths.DemoImageDir)
	cam := camera.New(driver)
	if err := cam.Open(context.Background()); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	detector := detect.NewDemo()
	solver := solve.NewDemo()
	assembler := assemble.NewImageMagick()

	p := prefsStore.Get()
	expTarget := autoexp.DefaultTarget()
	expTarget.DesiredStars = p.DesiredStarCount
	expTarget.MaxExposure = cfg.MaxExposureDuration()
	expController := autoexp.New(expTarget)

	modeCtl := mode.New()
	if p.HasObserver {
		modeCtl.SetObserver(p.LatitudeDeg, p.LongitudeDeg)
	}
	if p.HasBoresight {
		modeCtl.DesignateBoresight(mode.Boresight{OffsetXPixels: p.BoresightX, OffsetYPixels: p.BoresightY})
	}

	slewSup := slew.NewSupervisor()
	motionA := motion.New()

	engine := pipeline.New(cam, detector, solver, assembler, expController, modeCtl, store, slewSup, motionA, prefsStore, log)

	calibRunner := calibrate.NewRunner(cam, detector, solver, p.DesiredStarCount, cfg.MaxExposureDuration())

	if cfg.Paths.DemoImageDir != "" {
		watcher, err := watch.New(log)
		if err != nil {
			return fmt.Errorf("start demo dir watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.WatchDir(cfg.Paths.DemoImageDir, nil, func(path string) {
			log.Info("demo frame directory changed", "path", path)
		}); err != nil {
			log.Warn("failed to watch demo image directory", "dir", cfg.Paths.DemoImageDir, "error", err)
		} else {
			go watcher.Run()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)

	root := cli.NewRoot(cfg, log, store, engine, modeCtl, prefsStore, calibRunner, slewSup)
	rootCmd := cli.NewRootCmd(root)
	if err := rootCmd.Execute(); err != nil {
		return err
	}
	if root.Restart() {
		log.Info("restart requested, exiting with restart status")
		os.Exit(75) // EX_TEMPFAIL: supervisor should restart the process
	}
	return nil
}
