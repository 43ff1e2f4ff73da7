// Package server runs the TCP bridge that executes arm commands.
package server

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"aquarium_arm/hardware"
	"aquarium_arm/protocol"
	"aquarium_arm/trajectory"
)

// DataDirEnv names the directory that relative data paths are resolved
// against.
const DataDirEnv = "ROBOT_DATA_DIR"

// Config is the server configuration file.
type Config struct {
	Host       string        `json:"host,omitempty"`
	Port       int           `json:"port,omitempty"`
	BufferSize int           `json:"buffer_size,omitempty"`
	AcceptPoll time.Duration `json:"accept_poll,omitempty"`

	TrajectoriesDir string `json:"trajectories_dir,omitempty"`
	HomeFile        string `json:"home_file,omitempty"`
	DisableWatch    bool   `json:"disable_watch,omitempty"`

	HardwareInitAttempts int           `json:"hardware_init_attempts,omitempty"`
	HardwareInitDelay    time.Duration `json:"hardware_init_delay,omitempty"`

	SamplePeriod time.Duration           `json:"sample_period,omitempty"`
	IntervalMode trajectory.IntervalMode `json:"interval_mode,omitempty"`
	JoinTimeout  time.Duration           `json:"join_timeout,omitempty"`

	Hardware hardware.Config `json:"hardware"`
}

// Validate ensures all parts of the config are valid, fills in defaults and
// resolves relative data paths.
func (cfg *Config) Validate(path string) error {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 9000
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("%s.port: %d is not a valid TCP port", path, cfg.Port)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = protocol.BufferSize
	}
	if cfg.AcceptPoll <= 0 {
		cfg.AcceptPoll = time.Second
	}

	if cfg.TrajectoriesDir == "" {
		cfg.TrajectoriesDir = "trajectories"
	}
	if cfg.HomeFile == "" {
		cfg.HomeFile = "home.json"
	}
	cfg.TrajectoriesDir = resolveDataPath(cfg.TrajectoriesDir)
	cfg.HomeFile = resolveDataPath(cfg.HomeFile)

	if cfg.HardwareInitAttempts <= 0 {
		cfg.HardwareInitAttempts = 3
	}
	if cfg.HardwareInitDelay <= 0 {
		cfg.HardwareInitDelay = 5 * time.Second
	}

	if cfg.SamplePeriod <= 0 {
		cfg.SamplePeriod = trajectory.DefaultSamplePeriod
	}
	switch cfg.IntervalMode {
	case "":
		cfg.IntervalMode = trajectory.IntervalFixed
	case trajectory.IntervalFixed, trajectory.IntervalMeasured:
	default:
		return fmt.Errorf("%s.interval_mode: must be %q or %q, got %q",
			path, trajectory.IntervalFixed, trajectory.IntervalMeasured, cfg.IntervalMode)
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = trajectory.DefaultJoinTimeout
	}

	return cfg.Hardware.Validate(path + ".hardware")
}

// Addr is the host:port the server listens on.
func (cfg *Config) Addr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

// LoadConfig reads and validates a JSON config file. An empty path yields the
// default configuration. Overrides run after decoding and before validation.
func LoadConfig(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate("server"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveDataPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	dataDir := os.Getenv(DataDirEnv)
	if dataDir == "" {
		dataDir = "."
	}
	return filepath.Join(dataDir, p)
}
