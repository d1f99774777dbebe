package cmd

import "github.com/spf13/cobra"

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manage sites in the sitekit registry",
}

func init() {
	rootCmd.AddCommand(sitesCmd)
}
