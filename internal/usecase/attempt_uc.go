package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/adapter"
	"practice-pipeline/internal/domain/ports/repository"
	ports "practice-pipeline/internal/domain/ports/usecase"
	"practice-pipeline/internal/infra/logging"
	"practice-pipeline/internal/infra/metrics"
)

// Compile-time checks
var (
	_ AttemptUseCase        = (*attemptUC)(nil)
	_ ports.AnalysisTrigger = (*attemptUC)(nil)
	_ ports.OCRTrigger      = (*attemptUC)(nil)
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type CreateAttemptInput struct {
	Mode         model.Mode
	ImageID      string
	TimerSeconds int
	StoryText    string
}

// UpdateAttemptInput carries client changes. Nil fields are left alone.
type UpdateAttemptInput struct {
	StoryText     *string
	AnswerImageID *string
	Status        *model.AttemptStatus
}

// AttemptView is an attempt as shown to its owner.
type AttemptView struct {
	*model.Attempt
	Stalled bool
	Message string
}

// AttemptUseCase drives attempts through the pipeline. RequestAnalysis is the
// only way into the analysis stage, for typed text and OCR output alike.
type AttemptUseCase interface {
	Create(ctx context.Context, userID string, in CreateAttemptInput) (*model.Attempt, error)
	Get(ctx context.Context, userID, id string) (*AttemptView, error)
	List(ctx context.Context, userID string, offset, limit int) ([]*model.Attempt, error)
	Update(ctx context.Context, userID, id string, in UpdateAttemptInput) (*model.Attempt, error)

	RequestAnalysis(ctx context.Context, attemptID string, delay time.Duration) (bool, error)
	RequestOCR(ctx context.Context, attemptID string) error
	WaitForTerminal(ctx context.Context, attemptID string, window, poll time.Duration) (*model.Attempt, error)
}

type attemptUC struct {
	attempts repository.AttemptRepository
	images   repository.ImageRepository
	users    repository.UserRepository
	tm       repository.TransactionManager
	queue    adapter.JobQueue
	locker   adapter.Locker

	dedupTTL      time.Duration
	pollingWindow time.Duration
	now           func() time.Time
	log           *zerolog.Logger
}

func NewAttemptUseCase(
	attempts repository.AttemptRepository,
	images repository.ImageRepository,
	users repository.UserRepository,
	tm repository.TransactionManager,
	queue adapter.JobQueue,
	locker adapter.Locker,
	dedupTTL, pollingWindow time.Duration,
	logger *zerolog.Logger,
) *attemptUC {
	return &attemptUC{
		attempts:      attempts,
		images:        images,
		users:         users,
		tm:            tm,
		queue:         queue,
		locker:        locker,
		dedupTTL:      dedupTTL,
		pollingWindow: pollingWindow,
		now:           time.Now,
		log:           logger,
	}
}

func hasText(s string) bool { return strings.TrimSpace(s) != "" }

func (u *attemptUC) Create(ctx context.Context, userID string, in CreateAttemptInput) (*model.Attempt, error) {
	defer logging.TraceDuration(u.log, "AttemptUC.Create")()

	a, err := model.NewAttempt(userID, in.Mode, in.ImageID, in.TimerSeconds)
	if err != nil {
		return nil, err
	}
	a.StoryText = in.StoryText
	if a.HasStoryText() {
		a.Status = model.AttemptStatusCompleted
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.requireImage(ctx, tx, in.ImageID); err != nil {
			return err
		}
		if _, err := ensureUser(ctx, tx, u.users, userID, u.now()); err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}
		return u.attempts.Save(ctx, tx, a)
	})
	if err != nil {
		return nil, err
	}
	logging.With(logging.WithAttemptID(ctx, a.ID), u.log).Info().
		Str("mode", string(a.Mode)).
		Bool("has_text", a.HasStoryText()).
		Msg("attempt created")

	if a.HasStoryText() {
		if _, err := u.RequestAnalysis(ctx, a.ID, 0); err != nil {
			return nil, err
		}
	}
	return u.attempts.FindByID(ctx, nil, a.ID)
}

func (u *attemptUC) requireImage(ctx context.Context, tx repository.Tx, id string) error {
	if _, err := u.images.FindByID(ctx, tx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: image %s does not exist", domain.ErrInvalidArgument, id)
		}
		return err
	}
	return nil
}

func (u *attemptUC) owned(ctx context.Context, userID, id string) (*model.Attempt, error) {
	a, err := u.attempts.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if !a.OwnedBy(userID) {
		return nil, domain.ErrForbidden
	}
	return a, nil
}

func (u *attemptUC) Get(ctx context.Context, userID, id string) (*AttemptView, error) {
	defer logging.TraceDuration(u.log, "AttemptUC.Get")()

	a, err := u.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	v := &AttemptView{Attempt: a}
	if a.Stalled(u.now(), u.pollingWindow) {
		v.Stalled = true
		v.Message = domain.ErrAnalysisStalled.Error()
	}
	return v, nil
}

func (u *attemptUC) List(ctx context.Context, userID string, offset, limit int) ([]*model.Attempt, error) {
	defer logging.TraceDuration(u.log, "AttemptUC.List")()

	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return u.attempts.ListByUser(ctx, nil, userID, offset, limit)
}

// Update applies client edits. Clients may move an attempt to in_progress,
// completed or processing; scoring statuses belong to the pipeline.
func (u *attemptUC) Update(ctx context.Context, userID, id string, in UpdateAttemptInput) (*model.Attempt, error) {
	defer logging.TraceDuration(u.log, "AttemptUC.Update")()

	cur, err := u.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	sub := model.Submission{StoryText: in.StoryText, AnswerImageID: in.AnswerImageID}
	wantAnalysis := in.StoryText != nil && hasText(*in.StoryText)
	if in.Status != nil {
		switch *in.Status {
		case model.AttemptStatusInProgress, model.AttemptStatusCompleted:
			sub.Status = in.Status
		case model.AttemptStatusProcessing:
			text := cur.AnalysisText()
			if in.StoryText != nil && hasText(*in.StoryText) {
				text = *in.StoryText
			}
			if !hasText(text) {
				return nil, fmt.Errorf("%w: nothing to analyze yet", domain.ErrInvalidArgument)
			}
			wantAnalysis = true
		default:
			return nil, fmt.Errorf("%w: status %q cannot be set by clients", domain.ErrInvalidArgument, *in.Status)
		}
	}
	newAnswer := in.AnswerImageID != nil && *in.AnswerImageID != "" && *in.AnswerImageID != cur.AnswerImageID
	if newAnswer {
		if err := u.requireImage(ctx, nil, *in.AnswerImageID); err != nil {
			return nil, err
		}
		completed := model.AttemptStatusCompleted
		sub.Status = &completed
	}
	if wantAnalysis && sub.Status == nil {
		completed := model.AttemptStatusCompleted
		sub.Status = &completed
	}

	if _, err := u.attempts.UpdateSubmission(ctx, nil, id, sub); err != nil {
		return nil, fmt.Errorf("update attempt: %w", err)
	}

	if newAnswer {
		if err := u.RequestOCR(ctx, id); err != nil {
			return nil, err
		}
	}
	if wantAnalysis {
		if _, err := u.RequestAnalysis(ctx, id, 0); err != nil {
			return nil, err
		}
	}
	return u.attempts.FindByID(ctx, nil, id)
}

// RequestAnalysis moves the attempt to processing and enqueues one analysis
// job. While an earlier request is still queued it does nothing and reports
// false; the queued job reads the latest text when it starts. The worker
// clears the marker as it starts, so later edits queue a fresh analysis.
func (u *attemptUC) RequestAnalysis(ctx context.Context, attemptID string, delay time.Duration) (bool, error) {
	defer logging.TraceDuration(u.log, "AttemptUC.RequestAnalysis")()
	log := u.log.With().Str("attempt_id", attemptID).Logger()

	key := model.AnalysisDedupKey(attemptID)
	token, ok, err := u.locker.TryLock(ctx, key, u.dedupTTL)
	if err != nil {
		return false, fmt.Errorf("analysis dedup: %w", err)
	}
	if !ok {
		metrics.IncAnalysisRequest("deduplicated")
		log.Debug().Msg("analysis already pending")
		return false, nil
	}
	release := func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warn().Err(err).Msg("release analysis dedup key")
		}
	}

	processing := model.AttemptStatusProcessing
	if _, err := u.attempts.UpdateSubmission(ctx, nil, attemptID, model.Submission{Status: &processing}); err != nil {
		release()
		return false, fmt.Errorf("mark processing: %w", err)
	}
	jobID, err := u.queue.Enqueue(ctx, model.AnalyzePayload{AttemptID: attemptID, DedupToken: token}, model.JobOptions{Delay: delay})
	if err != nil {
		release()
		return false, fmt.Errorf("enqueue analysis: %w", err)
	}
	metrics.IncAnalysisRequest("enqueued")
	log.Info().Str("job_id", jobID).Dur("delay", delay).Msg("analysis requested")
	return true, nil
}

// RequestOCR queues text extraction for the attempt's answer image.
func (u *attemptUC) RequestOCR(ctx context.Context, attemptID string) error {
	defer logging.TraceDuration(u.log, "AttemptUC.RequestOCR")()

	a, err := u.attempts.FindByID(ctx, nil, attemptID)
	if err != nil {
		return err
	}
	if a.AnswerImageID == "" {
		return domain.ErrAnswerImageMissing
	}
	completed := model.AttemptStatusCompleted
	if _, err := u.attempts.UpdateSubmission(ctx, nil, attemptID, model.Submission{Status: &completed}); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	jobID, err := u.queue.Enqueue(ctx, model.OCRPayload{AttemptID: attemptID}, model.JobOptions{})
	if err != nil {
		return fmt.Errorf("enqueue ocr: %w", err)
	}
	u.log.Info().Str("attempt_id", attemptID).Str("job_id", jobID).Msg("ocr requested")
	return nil
}

// WaitForTerminal polls until the attempt reaches a terminal status. After
// window it returns the last seen attempt with domain.ErrAnalysisStalled.
func (u *attemptUC) WaitForTerminal(ctx context.Context, attemptID string, window, poll time.Duration) (*model.Attempt, error) {
	if window <= 0 {
		window = u.pollingWindow
	}
	if poll <= 0 {
		poll = time.Second
	}
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	tick := time.NewTicker(poll)
	defer tick.Stop()

	for {
		a, err := u.attempts.FindByID(ctx, nil, attemptID)
		if err != nil {
			return nil, err
		}
		if a.Status.IsTerminal() {
			return a, nil
		}
		select {
		case <-ctx.Done():
			return a, ctx.Err()
		case <-deadline.C:
			return a, domain.ErrAnalysisStalled
		case <-tick.C:
		}
	}
}
