package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
)

var _ Broker = (*MemoryBroker)(nil)

type memQueue struct {
	wait    []string
	active  map[string]time.Time // id -> lease expiry
	delayed map[string]time.Time // id -> run at
	failed  map[string]time.Time // id -> failed at
}

// MemoryBroker keeps every queue in process memory. It is meant for
// development mode and tests; nothing survives a restart.
type MemoryBroker struct {
	mu     sync.Mutex
	jobs   map[string]*model.Job
	queues map[model.QueueName]*memQueue
	lease  time.Duration
	now    func() time.Time
	poll   time.Duration
}

func NewMemoryBroker(lease time.Duration) *MemoryBroker {
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &MemoryBroker{
		jobs:   make(map[string]*model.Job),
		queues: make(map[model.QueueName]*memQueue),
		lease:  lease,
		now:    time.Now,
		poll:   5 * time.Millisecond,
	}
}

func (b *MemoryBroker) q(name model.QueueName) *memQueue {
	mq, ok := b.queues[name]
	if !ok {
		mq = &memQueue{
			active:  make(map[string]time.Time),
			delayed: make(map[string]time.Time),
			failed:  make(map[string]time.Time),
		}
		b.queues[name] = mq
	}
	return mq
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	c.Payload = append([]byte(nil), j.Payload...)
	if j.FailedAt != nil {
		t := *j.FailedAt
		c.FailedAt = &t
	}
	return &c
}

func (b *MemoryBroker) Push(_ context.Context, job *model.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[job.ID] = cloneJob(job)
	mq := b.q(job.Queue)
	if job.RunAt.After(b.now()) {
		mq.delayed[job.ID] = job.RunAt
	} else {
		mq.wait = append(mq.wait, job.ID)
	}
	return nil
}

func (b *MemoryBroker) promoteLocked(mq *memQueue, now time.Time) int {
	var due []string
	for id, at := range mq.delayed {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return mq.delayed[due[i]].Before(mq.delayed[due[j]]) })
	for _, id := range due {
		delete(mq.delayed, id)
		mq.wait = append(mq.wait, id)
	}
	return len(due)
}

func (b *MemoryBroker) tryClaim(name model.QueueName) *model.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	mq := b.q(name)
	now := b.now()
	b.promoteLocked(mq, now)
	if len(mq.wait) == 0 {
		return nil
	}
	id := mq.wait[0]
	mq.wait = mq.wait[1:]
	job, ok := b.jobs[id]
	if !ok {
		return nil
	}
	job.Attempt++
	mq.active[id] = now.Add(b.lease)
	return cloneJob(job)
}

func (b *MemoryBroker) Claim(ctx context.Context, name model.QueueName, wait time.Duration) (*model.Job, error) {
	deadline := time.Now().Add(wait)
	for {
		if job := b.tryClaim(name); job != nil {
			return job, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.poll):
		}
	}
}

func (b *MemoryBroker) Ack(_ context.Context, job *model.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.q(job.Queue).active, job.ID)
	delete(b.jobs, job.ID)
	return nil
}

func (b *MemoryBroker) Retry(_ context.Context, job *model.Job, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	mq := b.q(job.Queue)
	delete(mq.active, job.ID)
	b.jobs[job.ID] = cloneJob(job)
	mq.delayed[job.ID] = at
	return nil
}

func (b *MemoryBroker) Fail(_ context.Context, job *model.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	mq := b.q(job.Queue)
	delete(mq.active, job.ID)
	b.jobs[job.ID] = cloneJob(job)
	at := b.now()
	if job.FailedAt != nil {
		at = *job.FailedAt
	}
	mq.failed[job.ID] = at
	return nil
}

func (b *MemoryBroker) Promote(_ context.Context, name model.QueueName, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.promoteLocked(b.q(name), now), nil
}

func (b *MemoryBroker) RequeueStale(_ context.Context, name model.QueueName, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mq := b.q(name)
	n := 0
	for id, expiry := range mq.active {
		if expiry.Before(now) {
			delete(mq.active, id)
			mq.wait = append([]string{id}, mq.wait...)
			n++
		}
	}
	return n, nil
}

func (b *MemoryBroker) Failed(_ context.Context, name model.QueueName, limit int) ([]*model.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mq := b.q(name)
	out := make([]*model.Job, 0, len(mq.failed))
	for id := range mq.failed {
		if j, ok := b.jobs[id]; ok {
			out = append(out, cloneJob(j))
		}
	}
	// newest failure first
	sort.Slice(out, func(i, j int) bool { return mq.failed[out[i].ID].After(mq.failed[out[j].ID]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *MemoryBroker) Redeliver(_ context.Context, name model.QueueName, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	mq := b.q(name)
	if _, ok := mq.failed[id]; !ok {
		return domain.ErrNotFound
	}
	j, ok := b.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(mq.failed, id)
	j.Attempt = 0
	j.FailedAt = nil
	j.RunAt = b.now().UTC()
	mq.wait = append(mq.wait, id)
	return nil
}

func (b *MemoryBroker) Stats(_ context.Context, name model.QueueName) (model.QueueStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mq := b.q(name)
	return model.QueueStats{
		Queue:   name,
		Waiting: int64(len(mq.wait)),
		Active:  int64(len(mq.active)),
		Delayed: int64(len(mq.delayed)),
		Failed:  int64(len(mq.failed)),
	}, nil
}

func (b *MemoryBroker) Close() error { return nil }
