package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultConfigPath = "~/.config/boresight/config.json"
)

// Config holds user-editable settings for the server.
type Config struct {
	Server  Server  `json:"server"`
	Solve   Solve   `json:"solve"`
	Logging Logging `json:"logging"`
	Paths   Paths   `json:"paths"`
}

// Server controls the Frame RPC surface and telescope emulation front end.
type Server struct {
	Port          int    `json:"port"`
	TelescopePort int    `json:"telescope_port"`
	LongPollMax   string `json:"long_poll_max"` // e.g. "10s", parsed by time.ParseDuration
}

// Solve controls the auto-exposure and solver set points (spec.md §6 CLI surface).
type Solve struct {
	SolverEndpoint   string  `json:"solver_endpoint"`
	MaxExposure      string  `json:"max_exposure"` // e.g. "2s"
	SolveSigma       float64 `json:"solve_sigma"`
	DesiredStarCount int     `json:"desired_star_count"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DemoImageDir string `json:"demo_image_dir"`
	DatabasePath string `json:"database_path"`
	PrefsPath    string `json:"prefs_path"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// The config file path may be overridden with the BORESIGHT_CONFIG
// environment variable (spec.md §6 "single environment knob").
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("BORESIGHT_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: Server{
			Port:          8420,
			TelescopePort: 4030,
			LongPollMax:   "10s",
		},
		Solve: Solve{
			SolverEndpoint:   "",
			MaxExposure:      "2s",
			SolveSigma:       5.0,
			DesiredStarCount: 20,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DemoImageDir: "./demo-frames",
			DatabasePath: filepath.Join(os.TempDir(), "boresight.db"),
			PrefsPath:    "~/.config/boresight/prefs.bin",
		},
	}
}

// FrameAddr returns the listen address for the Frame RPC surface.
func (c *Config) FrameAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// TelescopeAddr returns the listen address for the telescope emulation server.
func (c *Config) TelescopeAddr() string {
	return fmt.Sprintf(":%d", c.Server.TelescopePort)
}

// MaxExposureDuration parses Solve.MaxExposure, falling back to 2s on a bad value.
func (c *Config) MaxExposureDuration() time.Duration {
	d, err := time.ParseDuration(c.Solve.MaxExposure)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// LongPollMaxDuration parses Server.LongPollMax, falling back to 10s.
func (c *Config) LongPollMaxDuration() time.Duration {
	d, err := time.ParseDuration(c.Server.LongPollMax)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
