package adapter

import (
	"context"

	"practice-pipeline/internal/domain/model"
)

type JobQueue interface {
	Enqueue(ctx context.Context, payload model.JobPayload, opts model.JobOptions) (string, error)
}

// JobInspector exposes failed jobs to operators.
type JobInspector interface {
	Failed(ctx context.Context, queue model.QueueName, limit int) ([]*model.Job, error)
	Retry(ctx context.Context, queue model.QueueName, id string) error
	Stats(ctx context.Context, queue model.QueueName) (model.QueueStats, error)
}
