// Package config provides configuration types and loading for keelcore.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keelcore/keelcore/internal/bus"
	"github.com/keelcore/keelcore/internal/dedup"
	"github.com/keelcore/keelcore/internal/state"
)

// Config is the root configuration struct.
// Top-level groups: Paths, Bus, Dedup, State, Metrics, Janitor.
type Config struct {
	Paths   PathsConfig   `json:"paths"`
	Bus     bus.Config    `json:"bus"`
	Dedup   dedup.Config  `json:"dedup"`
	State   state.Config  `json:"state"`
	Metrics MetricsConfig `json:"metrics"`
	Janitor JanitorConfig `json:"janitor"`
}

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	Home string `json:"home" envconfig:"HOME"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Listen  string `json:"listen" envconfig:"LISTEN"`
}

// JanitorConfig contains settings for the expiry janitor daemon.
type JanitorConfig struct {
	Enabled  bool          `json:"enabled" envconfig:"ENABLED"`
	Interval time.Duration `json:"interval" envconfig:"INTERVAL"`
	LockFile string        `json:"lockFile" envconfig:"LOCK_FILE"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Home: "~/.keelcore",
		},
		Bus:   bus.DefaultConfig(),
		Dedup: dedup.DefaultConfig(),
		State: state.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:18890",
		},
		Janitor: JanitorConfig{
			Enabled:  false,
			Interval: 15 * time.Minute,
		},
	}
}

// ResolvePaths expands ~ and fills derived paths that were left empty:
// the dedup database, the state directory, and the janitor lock file all
// live under the home directory by default.
func (c *Config) ResolvePaths() {
	expandHome(&c.Paths.Home)
	if c.Dedup.DBPath == "" {
		c.Dedup.DBPath = filepath.Join(c.Paths.Home, "dedup.db")
	} else {
		expandHome(&c.Dedup.DBPath)
	}
	if c.State.Dir == "" {
		c.State.Dir = filepath.Join(c.Paths.Home, "state")
	} else {
		expandHome(&c.State.Dir)
	}
	if c.Janitor.LockFile == "" {
		c.Janitor.LockFile = filepath.Join(c.Paths.Home, "janitor.lock")
	} else {
		expandHome(&c.Janitor.LockFile)
	}
}

func expandHome(p *string) {
	if strings.HasPrefix(*p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			*p = filepath.Join(home, (*p)[1:])
		}
	}
}
