package queue

import "practice-pipeline/internal/domain"

// Permanent marks a handler error as not worth retrying.
var Permanent = domain.Permanent

// IsPermanent reports whether the queue fails a job immediately on err.
var IsPermanent = domain.IsPermanent
