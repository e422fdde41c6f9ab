package main

import (
	"fmt"

	"github.com/animagenius/animagenius-api/pkg/db"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.InitDB(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer db.CloseDB()

		if err := db.ApplyMigrations(cmd.Context(), db.DB); err != nil {
			return err
		}
		log.Info("Database is up to date.")
		return nil
	},
}
