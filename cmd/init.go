package cmd

import (
	"fmt"

	"github.com/sitekit/sitekit/internal/config"
	"github.com/sitekit/sitekit/internal/paths"
	"github.com/spf13/cobra"
)

var initSettings []string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap the site registry",
	Long: `Create the registry file with a global settings block and an empty
sites section. Refuses to overwrite an existing registry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := map[string]string{
			"database": "mariadb",
		}
		for _, s := range initSettings {
			k, v, err := parseKV(s)
			if err != nil {
				return err
			}
			settings[k] = v
		}

		store := newStore()
		if err := store.Bootstrap(settings); err != nil {
			return err
		}
		if err := config.WriteDefaultConfig(paths.DefaultConfigPath()); err != nil {
			fmt.Printf("Warning: could not write default config: %v\n", err)
		}
		fmt.Printf("Initialized site registry at %s\n", store.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringArrayVarP(&initSettings, "setting", "s", nil,
		"global setting as key=value (repeatable)")
}
