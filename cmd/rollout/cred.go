package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halcyonops/rollout/internal/credstore"
)

var credUser string

var credCmd = &cobra.Command{
	Use:   "cred",
	Short: "Manage the stored admin credential",
}

var credSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a credential in the OS keyring",
	RunE: func(cmd *cobra.Command, args []string) error {
		cred, err := credstore.Prompt(credUser)
		if err != nil {
			return err
		}
		if err := credstore.Save(cred.Username, cred.Password); err != nil {
			return err
		}
		fmt.Printf("Stored credential for %s\n", cred.Username)
		return nil
	},
}

var credRmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Remove a stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		if credUser == "" {
			return fmt.Errorf("--user is required")
		}
		if err := credstore.Delete(credUser); err != nil {
			return err
		}
		fmt.Printf("Removed credential for %s\n", credUser)
		return nil
	},
}

func init() {
	credCmd.PersistentFlags().StringVarP(&credUser, "user", "u", "", `username, DOMAIN\user`)
	credCmd.AddCommand(credSetCmd, credRmCmd)
	rootCmd.AddCommand(credCmd)
}
