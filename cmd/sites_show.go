package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var showOutput string

var sitesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one site entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		site, err := newStore().Get(strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}

		switch showOutput {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(site)
		case "yaml":
			out, err := yaml.Marshal(site)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		case "table", "":
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Name:\t%s\n", site.Name)
			fmt.Fprintf(w, "Directory:\t%s\n", site.Directory)
			fmt.Fprintf(w, "Recipe:\t%s\n", site.Recipe)
			fmt.Fprintf(w, "Environment:\t%s\n", site.Environment)
			fmt.Fprintf(w, "Purpose:\t%s\n", site.Purpose)
			fmt.Fprintf(w, "Created:\t%s\n", site.Created.Format(time.RFC3339))
			for _, f := range site.Extra {
				fmt.Fprintf(w, "%s:\t%s\n", f.Key, f.Value)
			}
			return w.Flush()
		default:
			return fmt.Errorf("unknown output format %q (expected table, json, or yaml)", showOutput)
		}
	},
}

func init() {
	sitesCmd.AddCommand(sitesShowCmd)
	sitesShowCmd.Flags().StringVarP(&showOutput, "output", "o", "table", "output format: table, json, or yaml")
}
