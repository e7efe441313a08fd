package model

import (
	"time"

	"github.com/google/uuid"
)

// JobAttachment is the metadata of one uploaded file. The bytes live in the
// attachment store's per-job directory, not in the database.
type JobAttachment struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	JobID     uuid.UUID `gorm:"index;not null"`
	Name      string    `gorm:"not null"`
	MediaType string
	Size      int64
	SHA256    string
	CreatedAt time.Time
}
