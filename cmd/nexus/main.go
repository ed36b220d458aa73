// Command nexus keeps a local directory of users, structures and memberships
// in sync with the remote nexus directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/itou-labs/nexus-sync/internal/config"
	"github.com/itou-labs/nexus-sync/internal/logging"
	"github.com/itou-labs/nexus-sync/internal/ui"
)

var (
	configPath string
	dbPath     string
	logLevel   string

	cfg          *config.Config
	flushLogging = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Sync the local directory with nexus",
	Long: `nexus pushes users, structures and memberships to the remote nexus
directory and serves the hooks host services use to integrate with it.

Configuration is read from nexus.toml (or nexus.yaml) in the working
directory or $HOME/.config/nexus, overridden by NEXUS_* environment
variables (e.g. NEXUS_API_BASE_URL).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			loaded.Database.Path = dbPath
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded

		flush, err := logging.Install(logging.Config{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		if err != nil {
			return err
		}
		flushLogging = flush
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./nexus.toml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides database.path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides log.level)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "admin", Title: "Administration Commands:"},
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	flushLogging()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
		os.Exit(1)
	}
}
