package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/statichq/sitesmith/internal/store/model"
)

type Attachment interface {
	Create(ctx context.Context, attachment *model.JobAttachment) (*model.JobAttachment, error)
	List(ctx context.Context, jobID uuid.UUID) ([]model.JobAttachment, error)
	InitialMigration() error
}

type AttachmentStore struct {
	db *gorm.DB
}

// Make sure we conform to Attachment interface
var _ Attachment = (*AttachmentStore)(nil)

func NewAttachmentStore(db *gorm.DB) Attachment {
	return &AttachmentStore{db: db}
}

func (s *AttachmentStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.JobAttachment{})
}

func (s *AttachmentStore) Create(ctx context.Context, attachment *model.JobAttachment) (*model.JobAttachment, error) {
	result := s.db.WithContext(ctx).Create(attachment)
	if result.Error != nil {
		return nil, fmt.Errorf("creating attachment: %w", result.Error)
	}
	return attachment, nil
}

func (s *AttachmentStore) List(ctx context.Context, jobID uuid.UUID) ([]model.JobAttachment, error) {
	var attachments []model.JobAttachment
	result := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("id").Find(&attachments)
	if result.Error != nil {
		return nil, result.Error
	}
	return attachments, nil
}
