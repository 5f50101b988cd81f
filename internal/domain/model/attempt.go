package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"practice-pipeline/internal/domain"
)

// Mode is the practice test type.
type Mode string

const (
	ModePPDT Mode = "PPDT"
	ModeTAT  Mode = "TAT"
)

func (m Mode) Valid() bool {
	return m == ModePPDT || m == ModeTAT
}

type AttemptStatus string

const (
	AttemptStatusInProgress    AttemptStatus = "in_progress"
	AttemptStatusCompleted     AttemptStatus = "completed"
	AttemptStatusProcessed     AttemptStatus = "processed"
	AttemptStatusProcessing    AttemptStatus = "processing"
	AttemptStatusScored        AttemptStatus = "scored"
	AttemptStatusScoringFailed AttemptStatus = "scoring_failed"
)

// rank orders statuses along the pipeline. Statuses sharing a rank are
// alternative outcomes of the same step.
func (s AttemptStatus) rank() int {
	switch s {
	case AttemptStatusInProgress:
		return 0
	case AttemptStatusCompleted, AttemptStatusProcessed:
		return 1
	case AttemptStatusProcessing:
		return 2
	case AttemptStatusScored, AttemptStatusScoringFailed:
		return 3
	default:
		return -1
	}
}

func (s AttemptStatus) Valid() bool { return s.rank() >= 0 }

// IsTerminal reports whether the pipeline has nothing more to do for the attempt.
func (s AttemptStatus) IsTerminal() bool { return s.rank() == 3 }

// CanTransition implements the forward-only rule of the attempt lifecycle.
//
// Same-rank moves are allowed (completed <-> processed, scoring_failed -> scored)
// except that a genuine score is never replaced by the degraded outcome.
func CanTransition(from, to AttemptStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from == AttemptStatusScored && to == AttemptStatusScoringFailed {
		return false
	}
	return to.rank() >= from.rank()
}

// Advance returns the status the record should hold after a writer asks for
// target. Backward requests keep the current status.
func Advance(current, target AttemptStatus) AttemptStatus {
	if CanTransition(current, target) {
		return target
	}
	return current
}

// Attempt is a user's answer to one practice stimulus.
type Attempt struct {
	ID            string
	UserID        string
	Mode          Mode
	Status        AttemptStatus
	StoryText     string
	OCRText       string
	OCRProvider   string
	OCRConfidence *float64
	Score         *int
	Feedback      *Analysis
	TimerSeconds  int
	ImageID       string
	AnswerImageID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewAttempt(userID string, mode Mode, imageID string, timerSeconds int) (*Attempt, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(imageID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !mode.Valid() || timerSeconds < 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	return &Attempt{
		ID:           uuid.NewString(),
		UserID:       userID,
		Mode:         mode,
		Status:       AttemptStatusInProgress,
		TimerSeconds: timerSeconds,
		ImageID:      imageID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// HasStoryText reports whether the user typed a non-blank answer.
func (a *Attempt) HasStoryText() bool { return strings.TrimSpace(a.StoryText) != "" }

// AnalysisText picks the text handed to the evaluator: the typed story wins
// over the OCR extraction.
func (a *Attempt) AnalysisText() string {
	if a.HasStoryText() {
		return a.StoryText
	}
	return a.OCRText
}

// Stalled reports whether a submitted attempt has gone without progress for
// longer than window.
func (a *Attempt) Stalled(now time.Time, window time.Duration) bool {
	if a.Status.IsTerminal() || a.Status == AttemptStatusInProgress {
		return false
	}
	return now.Sub(a.UpdatedAt) > window
}

// OwnedBy guards user-initiated reads and writes.
func (a *Attempt) OwnedBy(userID string) bool { return a.UserID == userID }

// ApplyOCR records an extraction result and advances the status.
func (a *Attempt) ApplyOCR(r OCRResult) {
	a.OCRText = r.Text
	a.OCRProvider = r.Provider
	c := r.Confidence
	a.OCRConfidence = &c
	a.Status = Advance(a.Status, AttemptStatusProcessed)
}

// ApplyAnalysis stores the feedback and score together with a terminal status.
// It returns domain.ErrTransitionRejected when status would regress.
func (a *Attempt) ApplyAnalysis(an Analysis, status AttemptStatus) error {
	if !status.IsTerminal() || !CanTransition(a.Status, status) {
		return domain.ErrTransitionRejected
	}
	score := an.ScoreOverall
	a.Score = &score
	a.Feedback = &an
	a.Status = status
	return nil
}

// OCRResult is what the OCR stage writes back.
type OCRResult struct {
	Text       string
	Provider   string
	Confidence float64
}

// Submission carries user-side changes to an attempt. Nil fields are untouched.
type Submission struct {
	StoryText     *string
	AnswerImageID *string
	Status        *AttemptStatus
}

// AttemptWithRelations is the attempt joined with the records the analysis
// stage needs.
type AttemptWithRelations struct {
	Attempt
	Image       *Image
	AnswerImage *Image
	User        *User
}
