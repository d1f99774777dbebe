package paths

import (
	"os"
	"path/filepath"
)

func DefaultRuntimeDir() string {
	if x := os.Getenv("XDG_RUNTIME_DIR"); x != "" {
		return filepath.Join(x, "sitekit")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sitekit")
}

func DefaultStateDir() string {
	if x := os.Getenv("XDG_STATE_HOME"); x != "" {
		return filepath.Join(x, "sitekit")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "sitekit")
}

func DefaultConfigDir() string {
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		return filepath.Join(x, "sitekit")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sitekit")
}

func DefaultSocketPath() string   { return filepath.Join(DefaultRuntimeDir(), "daemon.sock") }
func DefaultPIDPath() string      { return filepath.Join(DefaultRuntimeDir(), "daemon.pid") }
func DefaultRegistryPath() string { return filepath.Join(DefaultStateDir(), "sites.reg") }
func DefaultConfigPath() string   { return filepath.Join(DefaultConfigDir(), "config.yaml") }
