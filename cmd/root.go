package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sitekit/sitekit/internal/config"
	"github.com/sitekit/sitekit/internal/paths"
	"github.com/sitekit/sitekit/internal/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "sitekit",
	Short:   "Multi-site management toolkit",
	Long:    `sitekit manages the shared registry of sites the toolkit provisions: a single hand-editable file, mutated atomically under an advisory lock so no command can corrupt it.`,
	Version: version,
}

func Execute() error {
	// Silence usage and errors to avoid cluttering output with Cobra defaults
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/sitekit/config.yaml)")
	rootCmd.PersistentFlags().String("registry", "", "registry file path")
	rootCmd.PersistentFlags().Duration("lock-timeout", 0, "max wait for the registry lock")

	_ = viper.BindPFlag("registry", rootCmd.PersistentFlags().Lookup("registry"))
	_ = viper.BindPFlag("lock_timeout", rootCmd.PersistentFlags().Lookup("lock-timeout"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("registry", defaults.Registry)
	viper.SetDefault("lock_timeout", defaults.LockTimeout)
	viper.SetDefault("lock_poll", defaults.LockPoll)
	viper.SetDefault("lock_stale_after", defaults.LockStaleAfter)
	viper.SetDefault("truncation_fraction", defaults.TruncationFraction)
	viper.SetDefault("daemon.socket", defaults.Daemon.Socket)
	viper.SetDefault("daemon.pid_file", defaults.Daemon.PIDFile)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(paths.DefaultConfigDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Missing config file is fine; defaults apply.
	_ = viper.ReadInConfig()
	_ = viper.Unmarshal(&cfg)
}

func newStore() *registry.Store {
	return registry.New(cfg.Registry, cfg.StoreOptions())
}

// ExitCode classifies an error into the toolkit's exit code taxonomy so
// shell callers can branch without parsing messages. Lock timeouts (8) are
// the only retryable failure.
func ExitCode(err error) int {
	var (
		ambErr   *registry.AmbiguousKeyError
		valErr   *registry.ValidationError
		malErr   *registry.MalformedError
		truncErr *registry.TruncationError
	)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, registry.ErrNotFound):
		return 2
	case errors.Is(err, registry.ErrDuplicateKey):
		return 3
	case errors.As(err, &ambErr):
		return 4
	case errors.As(err, &valErr):
		return 5
	case errors.As(err, &malErr):
		return 6
	case errors.As(err, &truncErr):
		return 7
	case errors.Is(err, registry.ErrLockTimeout):
		return 8
	default:
		return 1
	}
}

// parseKV splits a repeated key=value flag argument.
func parseKV(s string) (string, string, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", s)
	}
	return k, v, nil
}
