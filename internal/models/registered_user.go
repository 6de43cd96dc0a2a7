package models

import "time"

// Role codes stored on RegisteredUser.
const (
	RoleNone             uint8 = 0
	RoleEmployee         uint8 = 1
	RoleSupervisor       uint8 = 2
	RoleEmployeeReviewer uint8 = 3 // employee who may also answer in threads
	RoleManager          uint8 = 8
	RoleRoot             uint8 = 10
)

// RegisteredUser is a chat participant known to the help desk. The identity
// resolver reads these rows to build sessions.
type RegisteredUser struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"size:64;not null;uniqueIndex"` // platform user ID
	Name      string `gorm:"size:128;not null"`
	Username  string `gorm:"size:64"`
	Manager   string `gorm:"size:128"`
	Role      uint8  `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
