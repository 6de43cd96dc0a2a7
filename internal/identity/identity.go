// Package identity resolves chat participants against the registered_users table.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/session"
	"gorm.io/gorm"
)

// Directory implements session.Resolver on top of GORM.
type Directory struct {
	db *gorm.DB
}

// NewDirectory creates a Directory reading from db.
func NewDirectory(db *gorm.DB) (*Directory, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: db is required")
	}
	return &Directory{db: db}, nil
}

// Resolve looks up userID. Unknown users resolve to nil without error.
func (d *Directory) Resolve(ctx context.Context, userID string) (*session.Identity, error) {
	var u models.RegisteredUser
	err := d.db.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: lookup %s: %w", userID, err)
	}
	return &session.Identity{
		Name:     u.Name,
		Username: u.Username,
		Manager:  u.Manager,
		Role:     session.Role(u.Role),
	}, nil
}

// Supervisors returns the names of every participant allowed to answer in
// dialog threads.
func (d *Directory) Supervisors(ctx context.Context) ([]string, error) {
	var names []string
	err := d.db.WithContext(ctx).Model(&models.RegisteredUser{}).
		Where("role IN ?", []uint8{models.RoleSupervisor, models.RoleEmployeeReviewer, models.RoleManager, models.RoleRoot}).
		Order("name").
		Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("identity: list supervisors: %w", err)
	}
	return names, nil
}
