package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sitekit/sitekit/internal/registry"
	"github.com/spf13/cobra"
)

var (
	addDirectory   string
	addRecipe      string
	addEnvironment string
	addPurpose     string
	addFields      []string
	addJSON        bool
)

var sitesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a site to the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(args[0])

		// client-side friendliness: expand ~ and make absolute (the store
		// also validates)
		dir := strings.TrimSpace(addDirectory)
		if strings.HasPrefix(dir, "~") {
			if home, _ := os.UserHomeDir(); home != "" {
				dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
			}
		}
		if abs, err := filepath.Abs(dir); err == nil && dir != "" {
			dir = abs
		}

		entry := &registry.SiteEntry{
			Name:        name,
			Directory:   dir,
			Recipe:      strings.TrimSpace(addRecipe),
			Environment: registry.Environment(addEnvironment),
			Purpose:     registry.Purpose(addPurpose),
		}
		for _, f := range addFields {
			k, v, err := parseKV(f)
			if err != nil {
				return err
			}
			entry.SetExtra(k, v)
		}

		store := newStore()
		if err := store.Add(cmd.Context(), entry); err != nil {
			return err
		}

		if addJSON {
			added, err := store.Get(name)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"site": added})
		}
		fmt.Printf("Added site %q (%s, %s) at %s\n", name, entry.Recipe, entry.Environment, entry.Directory)
		return nil
	},
}

func init() {
	sitesCmd.AddCommand(sitesAddCmd)
	sitesAddCmd.Flags().StringVarP(&addDirectory, "directory", "d", "", "site directory (required)")
	sitesAddCmd.Flags().StringVarP(&addRecipe, "recipe", "r", "", "provisioning recipe (required)")
	sitesAddCmd.Flags().StringVarP(&addEnvironment, "environment", "e", string(registry.EnvDevelopment),
		"environment: development, staging, or production")
	sitesAddCmd.Flags().StringVar(&addPurpose, "purpose", string(registry.PurposeTemporary),
		"purpose: temporary or permanent")
	sitesAddCmd.Flags().StringArrayVarP(&addFields, "field", "f", nil,
		"recipe-specific extension field as key=value (repeatable)")
	sitesAddCmd.Flags().BoolVar(&addJSON, "json", false, "print JSON")
	_ = sitesAddCmd.MarkFlagRequired("directory")
	_ = sitesAddCmd.MarkFlagRequired("recipe")
}
