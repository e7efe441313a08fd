package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"go.uber.org/zap"
)

const (
	GenerateJobTimeout = 15 * time.Minute
	DeployJobTimeout   = 10 * time.Minute
)

// Runner is implemented by the orchestrator. Workers only translate queue
// deliveries into runner calls; all pipeline state lives behind this
// interface.
type Runner interface {
	RunGenerate(ctx context.Context, jobID uuid.UUID) error
	RunDeploy(ctx context.Context, jobID uuid.UUID, force bool) error
}

type GenerateWorker struct {
	river.WorkerDefaults[GenerateArgs]
	runner Runner
}

func NewGenerateWorker(runner Runner) *GenerateWorker {
	return &GenerateWorker{runner: runner}
}

func (w *GenerateWorker) Timeout(job *river.Job[GenerateArgs]) time.Duration {
	return GenerateJobTimeout
}

func (w *GenerateWorker) Work(ctx context.Context, job *river.Job[GenerateArgs]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	zap.S().Named("jobs").Infow("running generation job", "job_id", job.Args.JobID)
	return w.runner.RunGenerate(ctx, job.Args.JobID)
}

type DeployWorker struct {
	river.WorkerDefaults[DeployArgs]
	runner Runner
}

func NewDeployWorker(runner Runner) *DeployWorker {
	return &DeployWorker{runner: runner}
}

func (w *DeployWorker) Timeout(job *river.Job[DeployArgs]) time.Duration {
	return DeployJobTimeout
}

func (w *DeployWorker) Work(ctx context.Context, job *river.Job[DeployArgs]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	zap.S().Named("jobs").Infow("running deploy job", "job_id", job.Args.JobID, "force", job.Args.Force)
	return w.runner.RunDeploy(ctx, job.Args.JobID, job.Args.Force)
}
