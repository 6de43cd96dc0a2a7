package db

import (
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.DialogHistory{},
		&models.RegisteredUser{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// UpsertUser inserts a registered user or updates the existing row for the
// same platform user ID.
func UpsertUser(db *gorm.DB, u models.RegisteredUser) error {
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "username", "manager", "role", "updated_at"}),
	}).Create(&u)
	if result.Error != nil {
		return fmt.Errorf("db: upsert user %q: %w", u.UserID, result.Error)
	}
	return nil
}

// ListUsers returns all registered users ordered by name.
func ListUsers(db *gorm.DB) ([]models.RegisteredUser, error) {
	var users []models.RegisteredUser
	if err := db.Order("name").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("db: list users: %w", err)
	}
	return users, nil
}
