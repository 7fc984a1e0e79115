package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"news/internal/db"
	"news/internal/models"
	"news/internal/tags"
)

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage user roles",
	Long: `Inspect and change the role stored for a user id (the identity
provider's subject). Only the "admin" role grants extra permissions.`,
}

var roleSetCmd = &cobra.Command{
	Use:   "set <user-id> <role>",
	Short: "Assign a role to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, role := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
		if userID == "" || role == "" {
			return fmt.Errorf("user id and role are required")
		}
		return withStore(cmd, func(database *db.DB) error {
			if err := models.SetRole(cmd.Context(), database, userID, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", userID, role)
			return nil
		})
	},
}

var roleShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Print the role stored for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(database *db.DB) error {
			role, found, err := models.GetRole(cmd.Context(), database, args[0])
			if err != nil {
				return err
			}
			if !found {
				role = "(none)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], role)
			return nil
		})
	},
}

var roleClearCmd = &cobra.Command{
	Use:   "clear <user-id>",
	Short: "Remove the role stored for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(database *db.DB) error {
			if err := models.DeleteRole(cmd.Context(), database, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: cleared\n", args[0])
			return nil
		})
	},
}

func init() {
	roleCmd.AddCommand(roleSetCmd, roleShowCmd, roleClearCmd)
	rootCmd.AddCommand(roleCmd)
}

func withStore(cmd *cobra.Command, fn func(*db.DB) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openStore(cmd.Context(), cfg.DatabaseURL, tags.MustTaxonomy(tags.DefaultCoreTags))
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(database)
}
