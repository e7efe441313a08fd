package store

import (
	"context"
	"fmt"

	"github.com/riverqueue/river/rivertype"
	"gorm.io/gorm"
)

// QueueJobRow is a read-only view over River's river_job table, used for
// admission control without going through the queue client.
type QueueJobRow struct {
	ID    int64              `gorm:"column:id;primaryKey"`
	State rivertype.JobState `gorm:"column:state"`
	Kind  string             `gorm:"column:kind"`
}

// TableName specifies the table name for GORM
func (QueueJobRow) TableName() string {
	return "river_job"
}

type Queue interface {
	PendingCount(ctx context.Context) (int64, error)
}

type QueueStore struct {
	db *gorm.DB
}

// Make sure we conform to Queue interface
var _ Queue = (*QueueStore)(nil)

func NewQueueStore(db *gorm.DB) Queue {
	return &QueueStore{db: db}
}

// PendingCount returns the number of queue entries not yet claimed by a
// worker. The front door compares it against the pending-jobs ceiling.
func (s *QueueStore) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&QueueJobRow{}).
		Where("state IN ?", []string{
			string(rivertype.JobStateAvailable),
			string(rivertype.JobStateScheduled),
			string(rivertype.JobStateRetryable),
		}).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("querying queue depth: %w", result.Error)
	}
	return count, nil
}
