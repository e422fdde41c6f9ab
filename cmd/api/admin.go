package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/db/queries"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	adminEmail string
	adminName  string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin dashboard users",
}

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an admin user and print its API key",
	Long: `Creates an admin_users row. The generated API key is printed once and
authenticates /api/admin requests as "Authorization: Bearer <key>".

Example:
  animagenius admin create --email ops@animagenius.com --name "Ops Team"`,
	RunE: runAdminCreate,
}

func init() {
	adminCreateCmd.Flags().StringVar(&adminEmail, "email", "", "admin email address")
	adminCreateCmd.Flags().StringVar(&adminName, "name", "", "display name")
	_ = adminCreateCmd.MarkFlagRequired("email")
	adminCmd.AddCommand(adminCreateCmd)
}

func runAdminCreate(cmd *cobra.Command, args []string) error {
	email := strings.ToLower(strings.TrimSpace(adminEmail))
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email %q", adminEmail)
	}
	name := strings.TrimSpace(adminName)
	if name == "" {
		name = email
	}

	apiKey, err := newAPIKey()
	if err != nil {
		return err
	}

	if err := db.InitDB(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.CloseDB()

	admin, err := queries.CreateAdminUser(cmd.Context(), &db.AdminUser{
		Email:  email,
		Name:   name,
		APIKey: apiKey,
		Role:   "admin",
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s (%s)\n", color.GreenString("Created admin"), admin.Email, admin.ID.String())
	fmt.Fprintf(out, "API key: %s\n", color.New(color.FgYellow, color.Bold).Sprint(apiKey))
	fmt.Fprintln(out, color.HiBlackString("Store it now, it is not shown again."))
	return nil
}

func newAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "ak_" + hex.EncodeToString(b), nil
}
