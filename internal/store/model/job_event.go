package model

import (
	"time"

	"github.com/google/uuid"
)

// JobEvent is one append-only line of a job's log. IDs come from a single
// autoincrement sequence, so ids within a job are strictly increasing and
// match emission order.
type JobEvent struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	JobID     uuid.UUID `gorm:"index;not null"`
	Level     string    `gorm:"not null"`
	Message   string    `gorm:"not null"`
	CreatedAt time.Time
}

const (
	EventLevelInfo  = "info"
	EventLevelWarn  = "warn"
	EventLevelError = "error"
)
