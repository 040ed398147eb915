// Package config loads the optional robotd configuration file. It mirrors
// jduranf-device-sdk-go's internal/config/loader.go: a TOML file read with
// github.com/pelletier/go-toml, defended by a recover() against the
// library's panic-on-malformed-document behaviour, with built-in defaults
// used when no file is present.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

const (
	// DefaultRootDir is the default socket-tree root, per spec.md §6.
	DefaultRootDir = "/var/robotd"
	// DefaultPollIntervalSec is the supervisor's device-database poll
	// interval, per spec.md §4.3 item 3.
	DefaultPollIntervalSec = 1
	// DefaultMonitorIntervalMS is the liveness monitor's scan interval,
	// per spec.md §4.3 item 4 ("~2 Hz").
	DefaultMonitorIntervalMS = 500
)

// Config is the whole-program configuration, analogous to laitos's single
// Config struct that governs every daemon from one JSON document; here it
// is a much smaller TOML document since robotd has only one daemon shape
// (the supervisor) with per-type enable flags.
type Config struct {
	RootDir           string          `toml:"root_dir"`
	PollIntervalSec   int             `toml:"poll_interval_sec"`
	MonitorIntervalMS int             `toml:"monitor_interval_ms"`
	StatusAddr        string          `toml:"status_addr"`
	DisabledTypes     map[string]bool `toml:"disabled_types"`
}

// Default returns the built-in configuration used when no file is given.
func Default() Config {
	return Config{
		RootDir:           DefaultRootDir,
		PollIntervalSec:   DefaultPollIntervalSec,
		MonitorIntervalMS: DefaultMonitorIntervalMS,
	}
}

// Load reads and parses the TOML configuration file at path, overlaying it
// on top of Default(). An empty path returns the defaults unmodified.
func Load(path string) (cfg Config, err error) {
	cfg = Default()
	if path == "" {
		return cfg, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("config.Load: invalid TOML in %s: %v", path, r)
		}
	}()
	contents, readErr := os.ReadFile(path)
	if readErr != nil {
		return cfg, fmt.Errorf("config.Load: failed to read %s: %w", path, readErr)
	}
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		return cfg, fmt.Errorf("config.Load: failed to parse %s: %w", path, err)
	}
	if cfg.RootDir == "" {
		cfg.RootDir = DefaultRootDir
	}
	if cfg.PollIntervalSec <= 0 {
		cfg.PollIntervalSec = DefaultPollIntervalSec
	}
	if cfg.MonitorIntervalMS <= 0 {
		cfg.MonitorIntervalMS = DefaultMonitorIntervalMS
	}
	return cfg, nil
}
