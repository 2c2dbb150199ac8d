package db

import (
	"fmt"

	"github.com/zulandar/nudge/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model nudge persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.ContactEvent{},
		&models.ScheduleEntry{},
		&models.Run{},
		&models.ToolCall{},
		&models.Reasoning{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
