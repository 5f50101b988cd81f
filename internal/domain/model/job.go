package model

import (
	"encoding/json"
	"time"
)

type QueueName string

const (
	QueueOCR           QueueName = "ocr-run"
	QueueAnalyze       QueueName = "ai-analyze"
	QueueImageGenerate QueueName = "image-generate"
)

// Queues lists every queue the pipeline consumes.
var Queues = []QueueName{QueueOCR, QueueAnalyze, QueueImageGenerate}

const (
	DefaultMaxAttempts    = 3
	DefaultBackoffDelayMS = 2000
	BackoffExponential    = "exponential"
	BackoffFixed          = "fixed"
)

type Backoff struct {
	Type    string `json:"type"`
	DelayMS int64  `json:"delay_ms"`
}

// Delay returns the wait before redelivering after the given 1-based
// delivery failed: DelayMS * 2^(attempt-1) for exponential policies.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Duration(b.DelayMS) * time.Millisecond
	if b.Type == BackoffFixed {
		return base
	}
	if attempt > 31 {
		attempt = 31
	}
	return base << uint(attempt-1)
}

type JobOptions struct {
	Delay    time.Duration
	Attempts int
	Backoff  Backoff
}

func DefaultJobOptions() JobOptions {
	return JobOptions{
		Attempts: DefaultMaxAttempts,
		Backoff:  Backoff{Type: BackoffExponential, DelayMS: DefaultBackoffDelayMS},
	}
}

// Normalize fills zero fields from DefaultJobOptions.
func (o JobOptions) Normalize() JobOptions {
	def := DefaultJobOptions()
	if o.Attempts <= 0 {
		o.Attempts = def.Attempts
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = def.Backoff.Type
	}
	if o.Backoff.DelayMS <= 0 {
		o.Backoff.DelayMS = def.Backoff.DelayMS
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

// Job is one unit of queued work. Attempt counts deliveries and is 1 during
// the first run of the handler.
type Job struct {
	ID          string          `json:"id"`
	Queue       QueueName       `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     Backoff         `json:"backoff"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	RunAt       time.Time       `json:"run_at"`
	LastError   string          `json:"last_error,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
}

// IsFinalAttempt reports whether a failure of the current delivery exhausts
// the retry budget.
func (j *Job) IsFinalAttempt() bool { return j.Attempt >= j.MaxAttempts }

// JobPayload is implemented by every queue's payload variant.
type JobPayload interface {
	QueueName() QueueName
}

type OCRPayload struct {
	AttemptID string `json:"attempt_id" validate:"required,uuid"`
}

func (OCRPayload) QueueName() QueueName { return QueueOCR }

// AnalyzePayload carries the dedup token of the request that enqueued it so
// the worker can clear the pending marker without touching a newer one.
type AnalyzePayload struct {
	AttemptID  string `json:"attempt_id" validate:"required,uuid"`
	DedupToken string `json:"dedup_token,omitempty"`
}

// AnalysisDedupKey marks an analysis as pending for an attempt. It is held
// from the request until the analysis job starts reading the attempt.
func AnalysisDedupKey(attemptID string) string { return "pipeline:analyze:" + attemptID }

func (AnalyzePayload) QueueName() QueueName { return QueueAnalyze }

type ImagePayload struct {
	Prompt      string `json:"prompt,omitempty" validate:"omitempty,max=2000"`
	Theme       string `json:"theme,omitempty" validate:"omitempty,max=200"`
	SeedImageID string `json:"seed_image_id,omitempty" validate:"omitempty,uuid"`
	Mode        Mode   `json:"mode,omitempty" validate:"omitempty,oneof=PPDT TAT"`
	RequestedBy string `json:"requested_by,omitempty"`
}

func (ImagePayload) QueueName() QueueName { return QueueImageGenerate }

// QueueStats are queue depths at one instant.
type QueueStats struct {
	Queue   QueueName `json:"queue"`
	Waiting int64     `json:"waiting"`
	Active  int64     `json:"active"`
	Delayed int64     `json:"delayed"`
	Failed  int64     `json:"failed"`
}
