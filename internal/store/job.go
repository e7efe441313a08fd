package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/statichq/sitesmith/internal/store/model"
)

// JobUpdate carries the optional fields of one status transition. Nil fields
// are left untouched; set fields are written as absolute values so repeated
// executions of the same step converge to the same row.
type JobUpdate struct {
	ArtifactPath *string
	ArtifactName *string
	RepoURL      *string
	PagesURL     *string
	CommitSHA    *string
	ErrorCode    *string
	ErrorMessage *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

type Job interface {
	Create(ctx context.Context, job *model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, update *JobUpdate) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error)
	CountActive(ctx context.Context, sessionID string) (int64, error)
	InitialMigration() error
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Job{})
}

func (s *JobStore) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	result := s.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job: %w", result.Error)
	}
	return job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.db.WithContext(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}
	return &job, nil
}

// UpdateStatus is the only mutation path for jobs. The store is unopinionated
// about the source state; transition policy lives with the callers.
func (s *JobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string, update *JobUpdate) (*model.Job, error) {
	job := model.Job{ID: id, Status: status}
	selectFields := []string{"status", "updated_at"}

	if update != nil {
		if update.ArtifactPath != nil {
			job.ArtifactPath = update.ArtifactPath
			selectFields = append(selectFields, "artifact_path")
		}
		if update.ArtifactName != nil {
			job.ArtifactName = update.ArtifactName
			selectFields = append(selectFields, "artifact_name")
		}
		if update.RepoURL != nil {
			job.RepoURL = update.RepoURL
			selectFields = append(selectFields, "repo_url")
		}
		if update.PagesURL != nil {
			job.PagesURL = update.PagesURL
			selectFields = append(selectFields, "pages_url")
		}
		if update.CommitSHA != nil {
			job.CommitSHA = update.CommitSHA
			selectFields = append(selectFields, "commit_sha")
		}
		if update.ErrorCode != nil {
			job.ErrorCode = update.ErrorCode
			selectFields = append(selectFields, "error_code")
		}
		if update.ErrorMessage != nil {
			job.ErrorMessage = update.ErrorMessage
			selectFields = append(selectFields, "error_message")
		}
		if update.StartedAt != nil {
			job.StartedAt = update.StartedAt
			selectFields = append(selectFields, "started_at")
		}
		if update.CompletedAt != nil {
			job.CompletedAt = update.CompletedAt
			selectFields = append(selectFields, "completed_at")
		}
	}

	result := s.db.WithContext(ctx).Model(&job).Clauses(clause.Returning{}).Select(selectFields).Updates(&job)
	if result.Error != nil {
		return nil, fmt.Errorf("updating job status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error) {
	var jobs model.JobList
	tx := s.db.WithContext(ctx).Model(&jobs)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	result := tx.Find(&jobs)
	if result.Error != nil {
		return nil, result.Error
	}
	return jobs, nil
}

// CountActive counts jobs of a session that still occupy queue or worker
// capacity, used for the per-session admission cap.
func (s *JobStore) CountActive(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("session_id = ?", sessionID).
		Where("status IN ?", []string{"queued", "in_progress", "deploying"}).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}
