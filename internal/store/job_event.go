package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/statichq/sitesmith/internal/store/model"
)

type Event interface {
	Append(ctx context.Context, jobID uuid.UUID, level, message string) (*model.JobEvent, error)
	List(ctx context.Context, jobID uuid.UUID, afterID int64, limit int) ([]model.JobEvent, error)
	InitialMigration() error
}

type EventStore struct {
	db *gorm.DB
}

// Make sure we conform to Event interface
var _ Event = (*EventStore)(nil)

func NewEventStore(db *gorm.DB) Event {
	return &EventStore{db: db}
}

func (s *EventStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.JobEvent{})
}

func (s *EventStore) Append(ctx context.Context, jobID uuid.UUID, level, message string) (*model.JobEvent, error) {
	event := model.JobEvent{
		JobID:   jobID,
		Level:   level,
		Message: message,
	}
	result := s.db.WithContext(ctx).Create(&event)
	if result.Error != nil {
		return nil, fmt.Errorf("appending job event: %w", result.Error)
	}
	return &event, nil
}

// List returns events with ids strictly greater than afterID, ordered by id,
// so pollers can resume from their last cursor.
func (s *EventStore) List(ctx context.Context, jobID uuid.UUID, afterID int64, limit int) ([]model.JobEvent, error) {
	var events []model.JobEvent
	tx := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Where("id > ?", afterID).
		Order("id")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	result := tx.Find(&events)
	if result.Error != nil {
		return nil, result.Error
	}
	return events, nil
}
