package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/itou-labs/nexus-sync/internal/nexus/token"
	"github.com/itou-labs/nexus-sync/internal/ui"
)

var tokenCmd = &cobra.Command{
	Use:     "token",
	GroupID: "admin",
	Short:   "Issue and verify auto-login tokens",
}

var tokenEmail string

func issuer() (*token.Issuer, error) {
	if cfg.Token.Key == "" {
		return nil, fmt.Errorf("token.key is not configured (see 'nexus token keygen')")
	}
	return token.NewIssuer([]byte(cfg.Token.Key), cfg.Token.Expiry, nil)
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an auto-login token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenEmail == "" {
			return fmt.Errorf("--email is required")
		}
		iss, err := issuer()
		if err != nil {
			return err
		}
		tok, err := iss.IssueAutoLogin(tokenEmail)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Decrypt a token and print its claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		iss, err := issuer()
		if err != nil {
			return err
		}
		claims, err := iss.Verify(args[0])
		if err != nil {
			return err
		}

		keys := slices.Sorted(maps.Keys(claims))
		fmt.Printf("%s Token is valid\n", ui.RenderPass("✓"))
		rows := make([][2]string, len(keys))
		for i, k := range keys {
			rows[i] = [2]string{k, fmt.Sprint(claims[k])}
		}
		fmt.Print(ui.Table(rows))
		return nil
	},
}

var tokenKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new token key (JSON Web Key)",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := token.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Println(string(key))
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenEmail, "email", "", "user email")
	tokenCmd.AddCommand(tokenIssueCmd, tokenVerifyCmd, tokenKeygenCmd)
	rootCmd.AddCommand(tokenCmd)
}
