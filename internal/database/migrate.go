package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/pageza/foodlens/backend/internal/logging"
	"github.com/pageza/foodlens/backend/internal/models"
)

// Migrate creates or updates the tables the service owns
func Migrate(db *gorm.DB) error {
	logging.Info().Str("driver", db.Dialector.Name()).Msg("running auto-migration")
	if err := db.AutoMigrate(&models.UserPreference{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
