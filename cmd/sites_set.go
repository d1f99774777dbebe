package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sitekit/sitekit/internal/registry"
	"github.com/spf13/cobra"
)

var (
	setDirectory   string
	setEnvironment string
	setPurpose     string
	setFields      []string
	setUnsetFields []string
	setJSON        bool
)

var sitesSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Update fields of a site entry",
	Long: `Update a site's directory, environment, purpose, or recipe-specific
extension fields. The name and creation timestamp never change.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(args[0])

		if !cmd.Flags().Changed("directory") && !cmd.Flags().Changed("environment") &&
			!cmd.Flags().Changed("purpose") && len(setFields) == 0 && len(setUnsetFields) == 0 {
			return fmt.Errorf("nothing to update; pass at least one of --directory, --environment, --purpose, --field, --unset-field")
		}

		store := newStore()
		err := store.Update(cmd.Context(), name, func(e *registry.SiteEntry) error {
			if cmd.Flags().Changed("directory") {
				e.Directory = strings.TrimSpace(setDirectory)
			}
			if cmd.Flags().Changed("environment") {
				e.Environment = registry.Environment(setEnvironment)
			}
			if cmd.Flags().Changed("purpose") {
				e.Purpose = registry.Purpose(setPurpose)
			}
			for _, f := range setFields {
				k, v, err := parseKV(f)
				if err != nil {
					return err
				}
				e.SetExtra(k, v)
			}
			for _, k := range setUnsetFields {
				e.UnsetExtra(k)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if setJSON {
			updated, err := store.Get(name)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"site": updated})
		}
		fmt.Printf("Updated site %q\n", name)
		return nil
	},
}

func init() {
	sitesCmd.AddCommand(sitesSetCmd)
	sitesSetCmd.Flags().StringVarP(&setDirectory, "directory", "d", "", "new site directory")
	sitesSetCmd.Flags().StringVarP(&setEnvironment, "environment", "e", "", "new environment")
	sitesSetCmd.Flags().StringVar(&setPurpose, "purpose", "", "new purpose")
	sitesSetCmd.Flags().StringArrayVarP(&setFields, "field", "f", nil,
		"set extension field as key=value (repeatable)")
	sitesSetCmd.Flags().StringArrayVar(&setUnsetFields, "unset-field", nil,
		"remove extension field by key (repeatable)")
	sitesSetCmd.Flags().BoolVar(&setJSON, "json", false, "print JSON")
}
