package queue

import (
	"context"
	"time"

	"practice-pipeline/internal/domain/model"
)

// Broker is the storage side of the queue. Implementations must give
// at-least-once delivery: a claimed job stays recoverable until Ack, Retry
// or Fail is called for it.
type Broker interface {
	// Push stores the job and makes it visible at job.RunAt.
	Push(ctx context.Context, job *model.Job) error
	// Claim blocks up to wait for a visible job, increments its Attempt and
	// leases it. It returns (nil, nil) when nothing became visible.
	Claim(ctx context.Context, queue model.QueueName, wait time.Duration) (*model.Job, error)
	Ack(ctx context.Context, job *model.Job) error
	// Retry releases the lease and schedules the job again at at.
	Retry(ctx context.Context, job *model.Job, at time.Time) error
	// Fail moves the job into the failed set for operators.
	Fail(ctx context.Context, job *model.Job) error

	// Promote makes due delayed jobs visible.
	Promote(ctx context.Context, queue model.QueueName, now time.Time) (int, error)
	// RequeueStale returns jobs whose lease expired to the waiting list.
	RequeueStale(ctx context.Context, queue model.QueueName, now time.Time) (int, error)

	Failed(ctx context.Context, queue model.QueueName, limit int) ([]*model.Job, error)
	// Redeliver moves a failed job back to waiting with a fresh retry budget.
	Redeliver(ctx context.Context, queue model.QueueName, id string) error
	Stats(ctx context.Context, queue model.QueueName) (model.QueueStats, error)

	Close() error
}
