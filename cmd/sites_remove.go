package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	rmJSON bool
	rmYes  bool
)

var sitesRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a site by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(args[0])

		// refuse to prompt on non-tty unless -y
		if !rmYes && !rmJSON {
			if fi, _ := os.Stdin.Stat(); (fi.Mode() & os.ModeCharDevice) == 0 {
				return errors.New("refusing to prompt on non-interactive stdin; use -y to confirm")
			}
			fmt.Printf("Remove site %s from the registry? [y/N]: ", name)
			reader := bufio.NewReader(os.Stdin)
			ans, _ := reader.ReadString('\n')
			ans = strings.ToLower(strings.TrimSpace(ans))
			if ans != "y" && ans != "yes" {
				fmt.Println("aborted")
				return nil
			}
		}

		if err := newStore().Remove(cmd.Context(), name); err != nil {
			return err
		}

		if rmJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"removed": true, "name": name})
		}
		fmt.Println("Removed", name)
		return nil
	},
}

func init() {
	sitesCmd.AddCommand(sitesRemoveCmd)
	sitesRemoveCmd.Flags().BoolVarP(&rmYes, "yes", "y", false, "assume yes")
	sitesRemoveCmd.Flags().BoolVar(&rmJSON, "json", false, "print JSON")
}
