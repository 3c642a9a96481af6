package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate boresight configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configValidate()
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func (r *Root) configShow() error {
	cfgPath := os.Getenv("BORESIGHT_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/boresight/config.json"
	}
	fmt.Printf("Config file: %s\n\n", cfgPath)
	fmt.Printf("Server:\n")
	fmt.Printf("  Frame RPC port:     %d\n", r.cfg.Server.Port)
	fmt.Printf("  Telescope port:     %d\n", r.cfg.Server.TelescopePort)
	fmt.Printf("  Long-poll max:      %s\n", r.cfg.Server.LongPollMax)
	fmt.Printf("Solve:\n")
	fmt.Printf("  Solver endpoint:    %s\n", r.cfg.Solve.SolverEndpoint)
	fmt.Printf("  Max exposure:       %s\n", r.cfg.Solve.MaxExposure)
	fmt.Printf("  Solve sigma:        %.2f\n", r.cfg.Solve.SolveSigma)
	fmt.Printf("  Desired star count: %d\n", r.cfg.Solve.DesiredStarCount)
	fmt.Printf("Logging:\n")
	fmt.Printf("  Level:  %s\n", r.cfg.Logging.Level)
	fmt.Printf("  Format: %s\n", r.cfg.Logging.Format)
	fmt.Printf("  LogDir: %s\n", r.cfg.Logging.LogDir)
	fmt.Printf("Paths:\n")
	fmt.Printf("  Demo image dir: %s\n", r.cfg.Paths.DemoImageDir)
	fmt.Printf("  Database path:  %s (%s)\n", r.cfg.Paths.DatabasePath, humanize.Bytes(fileSize(r.cfg.Paths.DatabasePath)))
	fmt.Printf("  Prefs path:     %s (%s)\n", r.cfg.Paths.PrefsPath, humanize.Bytes(fileSize(r.cfg.Paths.PrefsPath)))
	return nil
}

// fileSize returns 0 for a missing or unreadable path rather than failing
// config show outright over a file that may not exist yet.
func fileSize(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

func (r *Root) configValidate() error {
	if r.cfg.Server.Port <= 0 || r.cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", r.cfg.Server.Port)
	}
	if r.cfg.Server.TelescopePort <= 0 || r.cfg.Server.TelescopePort > 65535 {
		return fmt.Errorf("invalid telescope port: %d", r.cfg.Server.TelescopePort)
	}
	if r.cfg.Solve.DesiredStarCount <= 0 {
		return fmt.Errorf("desired_star_count must be positive")
	}
	if r.cfg.MaxExposureDuration() <= 0 {
		return fmt.Errorf("invalid max_exposure")
	}
	fmt.Println("configuration is valid")
	return nil
}
