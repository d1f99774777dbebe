package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sitekit/sitekit/internal/registry"
	"github.com/spf13/cobra"
)

var listJSON bool

var sitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sites",
	RunE: func(cmd *cobra.Command, args []string) error {
		sites, err := newStore().List()
		if err != nil {
			return err
		}
		warnDuplicates(sites)

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"sites": sites})
		}
		if len(sites) == 0 {
			fmt.Println("No sites registered")
			return nil
		}
		return printSitesTable(sites)
	},
}

func printSitesTable(sites []*registry.SiteEntry) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tRECIPE\tENVIRONMENT\tPURPOSE\tDIRECTORY\tCREATED")
	for _, s := range sites {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Name, s.Recipe, s.Environment, s.Purpose, s.Directory,
			s.Created.Format(time.RFC3339))
	}
	return w.Flush()
}

// warnDuplicates flags names appearing more than once; list shows every
// occurrence, but mutations on these names will be refused until an
// operator resolves the duplicate.
func warnDuplicates(sites []*registry.SiteEntry) {
	counts := make(map[string]int)
	for _, s := range sites {
		counts[s.Name]++
	}
	for name, n := range counts {
		if n > 1 {
			fmt.Fprintf(os.Stderr, "Warning: site %q appears %d times in the registry; resolve the duplicate before mutating it\n", name, n)
		}
	}
}

func init() {
	sitesCmd.AddCommand(sitesListCmd)
	sitesListCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")
}
