package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Pipeline data-integrity errors. These are never retried.
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrAnswerImageMissing = errors.New("attempt has no answer image")
	ErrImageObjectMissing = errors.New("image object missing from storage")
	ErrNoTextToAnalyze    = errors.New("attempt has neither story text nor ocr text")
	ErrInvalidPayload     = errors.New("invalid job payload")

	// Pipeline transient / control-flow errors.
	ErrStageBusy           = errors.New("stage already running for attempt")
	ErrUndecodableImage    = errors.New("image could not be decoded")
	ErrTransitionRejected  = errors.New("attempt status transition rejected")
	ErrAnalysisStalled     = errors.New("analysis unavailable, try again")
	ErrNoProviderAvailable = errors.New("no provider produced a result")
	ErrRateLimited         = errors.New("rate limit exceeded")
)

// PermanentError marks a failure that must not be retried by the queue.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the queue fails the job without further retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return err
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is permanent.
// Data-integrity sentinels count as permanent even when not wrapped.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, ErrAttemptNotFound) ||
		errors.Is(err, ErrAnswerImageMissing) ||
		errors.Is(err, ErrImageObjectMissing) ||
		errors.Is(err, ErrNoTextToAnalyze) ||
		errors.Is(err, ErrInvalidPayload)
}
