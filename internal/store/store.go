package store

import (
	"gorm.io/gorm"

	"github.com/statichq/sitesmith/internal/store/model"
)

type Store interface {
	Job() Job
	Event() Event
	Attachment() Attachment
	Queue() Queue
	InitialMigration() error
	Close() error
}

type DataStore struct {
	db         *gorm.DB
	job        Job
	event      Event
	attachment Attachment
	queue      Queue
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:         db,
		job:        NewJobStore(db),
		event:      NewEventStore(db),
		attachment: NewAttachmentStore(db),
		queue:      NewQueueStore(db),
	}
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Event() Event {
	return s.event
}

func (s *DataStore) Attachment() Attachment {
	return s.attachment
}

func (s *DataStore) Queue() Queue {
	return s.queue
}

func (s *DataStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Job{}, &model.JobEvent{}, &model.JobAttachment{})
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
