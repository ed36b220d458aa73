package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/itou-labs/nexus-sync/internal/ui"
)

var fullSyncCmd = &cobra.Command{
	Use:     "full-sync",
	GroupID: "sync",
	Short:   "Push every structure, user and membership to nexus",
	Long: `Send a complete snapshot of the local directory to nexus.

The run:
  1. Opens a sync window (sync-start)
  2. Streams structures, users and memberships in chunks of api.chunk_size
  3. Closes the window (sync-completed)

Any failure stops the run without closing the window; nexus then discards
it. Without api.base_url the command only prints a warning.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("🔄"), a.store.Path())
		report, err := a.orchestrator().Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("full sync stopped at %s: %w", report.State, err)
		}
		if report.Skipped {
			fmt.Printf("%s Nexus full sync is disabled (api.base_url is empty)\n", ui.RenderWarn("⚠"))
			return nil
		}

		rows := [][2]string{{"Run", report.RunID}}
		for _, c := range report.Counts {
			rows = append(rows, [2]string{c.Collection, strconv.Itoa(c.Records)})
		}
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), report.Duration.Round(time.Millisecond))
		fmt.Print(ui.Table(rows))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fullSyncCmd)
}
