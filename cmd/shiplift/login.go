package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shiplift/shiplift/internal/config"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the forge token in the OS keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(os.Stderr, "Enter %s token: ", cfg.Forge.Type)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		token := strings.TrimSpace(string(raw))

		creds := config.NewCredentialStore(logger)
		if err := creds.SaveToken(cfg.Forge.Type, token); err != nil {
			return err
		}
		cmd.Printf("Token for %s stored in the OS keychain.\n", cfg.Forge.Type)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the forge token from the OS keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds := config.NewCredentialStore(logger)
		if err := creds.DeleteToken(cfg.Forge.Type); err != nil {
			return err
		}
		cmd.Printf("Token for %s removed.\n", cfg.Forge.Type)
		return nil
	},
}
