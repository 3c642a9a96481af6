package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command, grounded on photonic's
// internal/cli/cobra.go NewRootCmd shape.
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "boresight",
		Short: "Boresight is an embedded astrometry telescope-aiming server",
		Long: `Boresight captures frames, detects stars, plate-solves, and serves the
result over a long-poll Frame RPC surface and an LX200 telescope emulation
front end, so a telescope's pointing can be kept aligned against the sky.`,
	}

	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newCalibrateCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newServeCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the frame server and telescope emulation front end",
		Long: `Start the Frame RPC surface (get_frame long-poll, settings, actions) on
the configured server port, and the LX200 telescope emulation listener on
the configured telescope port. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runServe(context.Background())
		},
	}
}

func newCalibrateCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate",
		Short: "Run a foreground calibration pass",
		Long: `Drive the offset sweep, exposure-target search, and FOV/distortion solve
sequence once, printing the resulting solver tolerance. Intended for
bring-up and diagnostics; routine operation triggers calibration by sending
update_operation_settings with operate=true instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runCalibrate(context.Background())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("boresight v0.1.0-dev")
		},
	}
}
