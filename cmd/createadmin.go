/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/gotodo/apiserver/config"
	"github.com/gotodo/apiserver/internal/auth"
	"github.com/gotodo/apiserver/internal/db"
	"github.com/gotodo/apiserver/internal/store"
	"github.com/gotodo/apiserver/types"
	"github.com/spf13/cobra"
)

var (
	adminEmail    string
	adminName     string
	adminPassword string
)

// createAdminCmd bootstraps the first admin account. Registration over
// the API always assigns the user role, so an admin must be seeded here.
var createAdminCmd = &cobra.Command{
	Use:   "createadmin",
	Short: "Create an admin user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		adminEmail = strings.TrimSpace(adminEmail)
		if _, err := mail.ParseAddress(adminEmail); err != nil {
			return fmt.Errorf("invalid email %q", adminEmail)
		}

		cfg := config.LoadConfig()

		dbConn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer dbConn.Close()

		hashed, err := auth.HashPassword(adminPassword)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}

		users := store.NewUserRepository(dbConn)
		user, err := users.Create(cmd.Context(), types.User{
			Email:        adminEmail,
			FullName:     adminName,
			Role:         types.RoleAdmin,
			PasswordHash: hashed,
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicateEmail) {
				return fmt.Errorf("user %s already exists", adminEmail)
			}
			return fmt.Errorf("create admin: %w", err)
		}

		fmt.Printf("created admin %s (id %d)\n", user.Email, user.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createAdminCmd)

	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "admin email address")
	createAdminCmd.Flags().StringVar(&adminName, "name", "Admin", "admin display name")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "admin password")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")
}
