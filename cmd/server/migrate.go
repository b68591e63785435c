package main

import (
	"fmt"

	"storyforge/backend/internal/models"
	"storyforge/backend/pkg/config"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}

		db, err := config.NewDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if err := migrate(db); err != nil {
			return err
		}
		log.Info("Database schema is up to date")
		return nil
	},
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
