package models

import "time"

// DialogHistory is the durable record of a closed dialog, keyed by its token.
// Supervisor names and leg timestamps are stored as ";"-joined lists that stay
// index-aligned: the i-th start and end belong to the i-th supervisor.
type DialogHistory struct {
	Token            string    `gorm:"primaryKey;size:64"`
	AskerID          string    `gorm:"size:64;not null;index"`
	AskerName        string    `gorm:"size:128;not null"`
	Supervisors      string    `gorm:"type:text"`
	StartTimes       string    `gorm:"type:text"`
	EndTimes         string    `gorm:"type:text"`
	QuestionAt       time.Time `gorm:"index"`
	FirstMessageChat string    `gorm:"size:128"`
	FirstMessageID   string    `gorm:"size:128"`
	ThreadID         string    `gorm:"size:128;index"`
	PolicyLink       string    `gorm:"size:512"`
	ReturnForbidden  bool      `gorm:"not null;default:false"`
	AskerRating      *bool
	SupervisorRating *bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
