package jobs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

type Client struct {
	*river.Client[pgx.Tx]
}

// NewClient builds a river client bound to pool. With a nil runner the client
// can only insert jobs; the worker binary passes a real runner and calls
// Start to begin consuming.
func NewClient(ctx context.Context, pool *pgxpool.Pool, runner Runner) (*Client, error) {
	cfg := &river.Config{}

	// An insert-only client must not configure queues, river rejects
	// queue entries without registered workers.
	if runner != nil {
		workers := river.NewWorkers()
		river.AddWorker(workers, NewGenerateWorker(runner))
		river.AddWorker(workers, NewDeployWorker(runner))
		cfg.Workers = workers
		cfg.Queues = map[string]river.QueueConfig{
			DefaultQueue: {MaxWorkers: 10},
		}
	}

	riverClient, err := river.NewClient(riverpgxv5.New(pool), cfg)
	if err != nil {
		return nil, err
	}

	return &Client{Client: riverClient}, nil
}

func (c *Client) InsertGenerate(ctx context.Context, jobID uuid.UUID) (int64, error) {
	result, err := c.Insert(ctx, GenerateArgs{JobID: jobID}, nil)
	if err != nil {
		return 0, err
	}
	return result.Job.ID, nil
}

func (c *Client) InsertDeploy(ctx context.Context, jobID uuid.UUID, force bool) (int64, error) {
	result, err := c.Insert(ctx, DeployArgs{JobID: jobID, Force: force}, nil)
	if err != nil {
		return 0, err
	}
	return result.Job.ID, nil
}
