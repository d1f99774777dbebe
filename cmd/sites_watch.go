package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitekit/sitekit/internal/watcher"
	"github.com/spf13/cobra"
)

var watchDebounce time.Duration

var sitesWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the registry and re-list sites on every committed change",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()

		w, err := watcher.New(watcher.Config{Path: store.Path(), DebounceDur: watchDebounce})
		if err != nil {
			return err
		}
		changes, err := w.Start()
		if err != nil {
			return err
		}
		defer w.Stop()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		printOnce := func() {
			sites, err := store.List()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to read registry: %v\n", err)
				return
			}
			warnDuplicates(sites)
			fmt.Printf("-- %s (%d sites)\n", time.Now().Format(time.RFC3339), len(sites))
			if err := printSitesTable(sites); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}

		fmt.Printf("Watching %s (Ctrl-C to stop)\n", store.Path())
		printOnce()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-changes:
				printOnce()
			}
		}
	},
}

func init() {
	sitesCmd.AddCommand(sitesWatchCmd)
	sitesWatchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond,
		"coalesce change events within this window")
}
