// Package config provides configuration types and defaults for sitekit.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sitekit/sitekit/internal/paths"
	"github.com/sitekit/sitekit/internal/registry"
)

// DaemonConfig holds daemon socket locations.
type DaemonConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// Config holds all configuration options for sitekit.
type Config struct {
	// Registry is the path to the shared registry file.
	Registry string `mapstructure:"registry"`

	// LockTimeout bounds how long mutations wait for the registry lock.
	// LockTimeoutError is the one retryable error; everything else needs
	// operator intervention.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`

	// LockPoll is the interval between lock acquisition attempts.
	LockPoll time.Duration `mapstructure:"lock_poll"`

	// LockStaleAfter is the age past which a lock file left behind by a
	// crashed process is reclaimed with a warning.
	LockStaleAfter time.Duration `mapstructure:"lock_stale_after"`

	// TruncationFraction is the minimum plausible size of a rewritten
	// registry relative to its pre-operation size.
	TruncationFraction float64 `mapstructure:"truncation_fraction"`

	Daemon DaemonConfig `mapstructure:"daemon"`
}

// Defaults returns the documented default configuration.
func Defaults() Config {
	o := registry.DefaultOptions()
	return Config{
		Registry:           paths.DefaultRegistryPath(),
		LockTimeout:        o.LockTimeout,
		LockPoll:           o.LockPoll,
		LockStaleAfter:     o.LockStaleAfter,
		TruncationFraction: o.TruncationFraction,
		Daemon: DaemonConfig{
			Socket:  paths.DefaultSocketPath(),
			PIDFile: paths.DefaultPIDPath(),
		},
	}
}

// StoreOptions maps the config to registry store options.
func (c Config) StoreOptions() registry.Options {
	return registry.Options{
		LockTimeout:        c.LockTimeout,
		LockPoll:           c.LockPoll,
		LockStaleAfter:     c.LockStaleAfter,
		TruncationFraction: c.TruncationFraction,
	}
}

// WriteDefaultConfig writes a commented default config file. It is a no-op
// if the file already exists.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	d := Defaults()
	content := fmt.Sprintf(`# sitekit configuration
# registry: %s

# How long mutating commands wait for the registry lock before giving up.
# Lock timeouts are retryable; rerun the command.
lock_timeout: %s
lock_poll: %s

# Lock files older than this are treated as abandoned by a crashed process
# and reclaimed with a warning.
lock_stale_after: %s

# A rewritten registry smaller than this fraction of its previous size
# (minus what the operation removed) is rejected as truncated.
truncation_fraction: %.2f

daemon:
  socket: %s
  pid_file: %s
`, d.Registry, d.LockTimeout, d.LockPoll, d.LockStaleAfter, d.TruncationFraction,
		d.Daemon.Socket, d.Daemon.PIDFile)
	return os.WriteFile(path, []byte(content), 0o600)
}
