package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/itou-labs/nexus-sync/internal/nexus/db"
	"github.com/itou-labs/nexus-sync/internal/ui"
)

var statusEmail string

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local directory and nexus status",
	Long: `Display the local directory size and the nexus configuration.

With --email, also look up the services dropdown nexus returns for that
user.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var users, structures, memberships int
		err = a.store.Atomic(ctx, func(tx *db.Tx) error {
			var err error
			if users, err = tx.Users().Count(ctx); err != nil {
				return err
			}
			if structures, err = tx.Structures().Count(ctx); err != nil {
				return err
			}
			memberships, err = tx.Memberships().Count(ctx)
			return err
		})
		if err != nil {
			return err
		}

		remote := ui.RenderWarn("disabled")
		if cfg.APIEnabled() {
			remote = cfg.API.BaseURL
		}

		fmt.Printf("\n%s Nexus Status\n\n", ui.RenderAccent("📊"))
		fmt.Print(ui.Table([][2]string{
			{"Database", a.store.Path()},
			{"Remote", remote},
			{"Users", strconv.Itoa(users)},
			{"Structures", strconv.Itoa(structures)},
			{"Memberships", strconv.Itoa(memberships)},
		}))
		fmt.Println()

		if statusEmail == "" {
			return nil
		}
		if err := cfg.RequireAPI(); err != nil {
			return err
		}
		status, err := a.client.DropdownStatus(ctx, statusEmail)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("%s Dropdown for %s\n", ui.RenderHeader("Nexus"), statusEmail)
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusEmail, "email", "", "look up the dropdown status of this user")
	rootCmd.AddCommand(statusCmd)
}
