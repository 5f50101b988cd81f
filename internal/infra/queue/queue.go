package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/adapter"
	"practice-pipeline/internal/infra/metrics"
)

var (
	_ adapter.JobQueue     = (*Queue)(nil)
	_ adapter.JobInspector = (*Queue)(nil)
)

// Handler processes one delivery. Returning nil acks the job; an error wrapped
// with Permanent fails it at once; any other error schedules a retry.
type Handler func(ctx context.Context, job *model.Job) error

type registration struct {
	name        model.QueueName
	concurrency int
	handler     Handler
}

type Queue struct {
	broker Broker
	log    *zerolog.Logger
	now    func() time.Time

	claimWait  time.Duration
	jobTimeout time.Duration
	defaults   model.JobOptions

	mu       sync.Mutex
	handlers []registration
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// WithClaimWait sets how long one Claim call blocks. Shorter values make
// shutdown faster at the cost of more broker round trips.
func WithClaimWait(d time.Duration) Option { return func(q *Queue) { q.claimWait = d } }

func WithJobTimeout(d time.Duration) Option { return func(q *Queue) { q.jobTimeout = d } }

func WithDefaults(o model.JobOptions) Option { return func(q *Queue) { q.defaults = o.Normalize() } }

func New(b Broker, log *zerolog.Logger, opts ...Option) *Queue {
	q := &Queue{
		broker:     b,
		log:        log,
		now:        time.Now,
		claimWait:  time.Second,
		jobTimeout: 2 * time.Minute,
		defaults:   model.DefaultJobOptions(),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue stores a job for payload's queue and returns its id. Zero option
// fields fall back to the queue defaults.
func (q *Queue) Enqueue(ctx context.Context, payload model.JobPayload, opts model.JobOptions) (string, error) {
	if payload == nil {
		return "", domain.ErrInvalidArgument
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	if opts.Attempts <= 0 {
		opts.Attempts = q.defaults.Attempts
	}
	if opts.Backoff.DelayMS <= 0 {
		opts.Backoff = q.defaults.Backoff
	}
	opts = opts.Normalize()

	now := q.now().UTC()
	job := &model.Job{
		ID:          ulid.Make().String(),
		Queue:       payload.QueueName(),
		Payload:     raw,
		MaxAttempts: opts.Attempts,
		Backoff:     opts.Backoff,
		EnqueuedAt:  now,
		RunAt:       now.Add(opts.Delay),
	}
	if err := q.broker.Push(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", job.Queue, err)
	}
	q.log.Debug().
		Str("queue", string(job.Queue)).
		Str("job_id", job.ID).
		Dur("delay", opts.Delay).
		Msg("job enqueued")
	return job.ID, nil
}

// Handle registers handler for name. Must be called before Run.
func (q *Queue) Handle(name model.QueueName, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, registration{name: name, concurrency: concurrency, handler: handler})
}

// Run consumes every registered queue until ctx is cancelled, then waits for
// in-flight jobs to finish. In-flight jobs are not cancelled by ctx; they are
// bounded by the job timeout instead.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	regs := append([]registration(nil), q.handlers...)
	q.mu.Unlock()
	if len(regs) == 0 {
		return errors.New("queue: no handlers registered")
	}

	var wg sync.WaitGroup
	for _, r := range regs {
		wg.Add(1)
		go func(r registration) {
			defer wg.Done()
			q.consume(ctx, r)
		}(r)
	}
	wg.Wait()
	return nil
}

func (q *Queue) consume(ctx context.Context, r registration) {
	pool := NewPool(r.concurrency)
	log := q.log.With().Str("queue", string(r.name)).Logger()
	log.Info().Int("concurrency", pool.Size()).Msg("consumer started")

	for {
		if err := pool.Acquire(ctx); err != nil {
			break
		}
		job, err := q.broker.Claim(ctx, r.name, q.claimWait)
		if err != nil || job == nil {
			pool.Release()
			if ctx.Err() != nil {
				break
			}
			if err != nil {
				log.Error().Err(err).Msg("claim failed")
				sleepCtx(ctx, q.claimWait)
			}
			continue
		}
		pool.Go(func() { q.process(ctx, r.handler, job) })
	}

	pool.Wait()
	log.Info().Msg("consumer stopped")
}

// process runs one delivery and settles it with the broker.
func (q *Queue) process(parent context.Context, h Handler, job *model.Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), q.jobTimeout)
	defer cancel()

	log := q.log.With().
		Str("queue", string(job.Queue)).
		Str("job_id", job.ID).
		Int("attempt", job.Attempt).
		Logger()

	start := q.now()
	var err error
	if job.Attempt > job.MaxAttempts {
		// Lease expired on the final delivery; the budget is already spent.
		err = Permanent(fmt.Errorf("attempts exhausted after lease expiry (%d/%d)", job.Attempt-1, job.MaxAttempts))
	} else {
		err = runHandler(ctx, h, job)
	}
	metrics.ObserveJobDuration(string(job.Queue), q.now().Sub(start).Seconds())

	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
	defer settleCancel()

	if err == nil {
		if ackErr := q.broker.Ack(settleCtx, job); ackErr != nil {
			log.Error().Err(ackErr).Msg("ack failed")
		}
		metrics.IncJob(string(job.Queue), "completed")
		log.Info().Dur("duration", q.now().Sub(start)).Msg("job completed")
		return
	}

	job.LastError = err.Error()
	if IsPermanent(err) || job.IsFinalAttempt() {
		now := q.now().UTC()
		job.FailedAt = &now
		if failErr := q.broker.Fail(settleCtx, job); failErr != nil {
			log.Error().Err(failErr).Msg("moving job to failed set")
		}
		metrics.IncJob(string(job.Queue), "failed")
		log.Error().Err(err).Bool("permanent", IsPermanent(err)).Msg("job failed")
		return
	}

	delay := job.Backoff.Delay(job.Attempt)
	job.RunAt = q.now().UTC().Add(delay)
	if retryErr := q.broker.Retry(settleCtx, job, job.RunAt); retryErr != nil {
		log.Error().Err(retryErr).Msg("scheduling retry")
	}
	metrics.IncJob(string(job.Queue), "retried")
	metrics.IncJobRetry(string(job.Queue), strconv.Itoa(job.Attempt))
	log.Warn().Err(err).Dur("retry_in", delay).Msg("job will be retried")
}

func runHandler(ctx context.Context, h Handler, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

// Maintain promotes due delayed jobs and recovers expired leases for every
// pipeline queue, refreshing the depth gauges on the way.
func (q *Queue) Maintain(ctx context.Context) error {
	now := q.now().UTC()
	var errs []error
	for _, name := range model.Queues {
		promoted, err := q.broker.Promote(ctx, name, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("promote %s: %w", name, err))
		}
		requeued, err := q.broker.RequeueStale(ctx, name, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("requeue %s: %w", name, err))
		}
		metrics.AddMaintenance(string(name), "promoted", promoted)
		metrics.AddMaintenance(string(name), "requeued", requeued)
		if requeued > 0 {
			q.log.Warn().Str("queue", string(name)).Int("count", requeued).Msg("requeued jobs with expired lease")
		}
		if st, err := q.broker.Stats(ctx, name); err == nil {
			metrics.SetQueueDepth(string(name), st.Waiting, st.Active, st.Delayed, st.Failed)
		}
	}
	return errors.Join(errs...)
}

func (q *Queue) Failed(ctx context.Context, queue model.QueueName, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.broker.Failed(ctx, queue, limit)
}

// Retry hands a failed job back to consumers with a fresh retry budget.
func (q *Queue) Retry(ctx context.Context, queue model.QueueName, id string) error {
	if err := q.broker.Redeliver(ctx, queue, id); err != nil {
		return err
	}
	q.log.Info().Str("queue", string(queue)).Str("job_id", id).Msg("failed job redelivered")
	return nil
}

func (q *Queue) Stats(ctx context.Context, queue model.QueueName) (model.QueueStats, error) {
	return q.broker.Stats(ctx, queue)
}

func (q *Queue) Close() error { return q.broker.Close() }

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
