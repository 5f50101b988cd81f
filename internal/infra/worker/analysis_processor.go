package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/adapter"
	"practice-pipeline/internal/domain/ports/repository"
	"practice-pipeline/internal/infra/metrics"
	"practice-pipeline/internal/infra/queue"
)

// StageLockKey guards one analysis run per attempt.
func StageLockKey(attemptID string) string { return "pipeline:stage:analyze:" + attemptID }

// AnalysisProcessor scores an attempt with the evaluator and stores the
// feedback. On the last delivery an evaluator failure is stored as the
// fallback analysis instead of failing the job.
type AnalysisProcessor struct {
	attempts      repository.AttemptRepository
	evaluator     adapter.Evaluator
	locker        adapter.Locker
	lockTTL       time.Duration
	promptVersion string
	now           func() time.Time
	log           *zerolog.Logger
}

func NewAnalysisProcessor(
	attempts repository.AttemptRepository,
	evaluator adapter.Evaluator,
	locker adapter.Locker,
	lockTTL time.Duration,
	promptVersion string,
	log *zerolog.Logger,
) *AnalysisProcessor {
	return &AnalysisProcessor{
		attempts:      attempts,
		evaluator:     evaluator,
		locker:        locker,
		lockTTL:       lockTTL,
		promptVersion: promptVersion,
		now:           time.Now,
		log:           log,
	}
}

func (p *AnalysisProcessor) Handle(ctx context.Context, job *model.Job) error {
	payload, err := queue.DecodePayload[model.AnalyzePayload](job)
	if err != nil {
		return err
	}
	log := p.log.With().Str("attempt_id", payload.AttemptID).Str("job_id", job.ID).Int("attempt", job.Attempt).Logger()

	key := StageLockKey(payload.AttemptID)
	token, ok, err := p.locker.TryLock(ctx, key, p.lockTTL)
	if err != nil {
		if job.IsFinalAttempt() {
			p.clearPending(ctx, payload, &log)
		}
		return fmt.Errorf("stage lock: %w", err)
	}
	if !ok {
		if job.IsFinalAttempt() {
			// The holder will write the result.
			p.clearPending(ctx, payload, &log)
			log.Info().Msg("analysis already running elsewhere, skipping")
			return nil
		}
		return domain.ErrStageBusy
	}
	defer func() {
		if err := p.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warn().Err(err).Msg("release stage lock")
		}
	}()

	// Edits landing after this point request a fresh analysis.
	p.clearPending(ctx, payload, &log)

	a, err := p.attempts.FindWithRelations(ctx, nil, payload.AttemptID)
	if err != nil {
		return fmt.Errorf("load attempt: %w", err)
	}

	if !a.HasStoryText() && !hasText(a.OCRText) {
		return domain.ErrNoTextToAnalyze
	}
	req := adapter.EvaluationRequest{
		AttemptID:     a.ID,
		Mode:          a.Mode,
		StoryText:     a.StoryText,
		OCRText:       a.OCRText,
		PromptVersion: p.promptVersion,
	}
	if a.Image != nil {
		req.StimulusKey = a.Image.StorageKey
	}

	an, status, err := p.evaluate(ctx, req)
	if err != nil {
		if !job.IsFinalAttempt() {
			return err
		}
		log.Error().Err(err).Msg("evaluation failed on final delivery, storing fallback analysis")
		an = model.FallbackAnalysis(p.promptVersion, p.now())
		status = model.AttemptStatusScoringFailed
	}

	if _, err := p.attempts.UpdateAnalysis(ctx, nil, a.ID, an, status); err != nil {
		if errors.Is(err, domain.ErrTransitionRejected) {
			// A genuine score is already stored.
			log.Info().Str("status", string(status)).Msg("analysis result superseded")
			return nil
		}
		return fmt.Errorf("store analysis: %w", err)
	}
	metrics.IncAnalysis(string(status))
	log.Info().Str("status", string(status)).Int("score", an.ScoreOverall).Str("model", an.Metadata.Model).Msg("analysis stored")
	return nil
}

// clearPending drops the dedup marker taken by the request that queued this
// job. A marker from a newer request carries a different token and stays.
func (p *AnalysisProcessor) clearPending(ctx context.Context, payload model.AnalyzePayload, log *zerolog.Logger) {
	if payload.DedupToken == "" {
		return
	}
	if err := p.locker.Unlock(context.WithoutCancel(ctx), model.AnalysisDedupKey(payload.AttemptID), payload.DedupToken); err != nil {
		log.Warn().Err(err).Msg("clear analysis dedup key")
	}
}

func (p *AnalysisProcessor) evaluate(ctx context.Context, req adapter.EvaluationRequest) (model.Analysis, model.AttemptStatus, error) {
	res, err := p.evaluator.Evaluate(ctx, req)
	if err != nil {
		return model.Analysis{}, "", fmt.Errorf("evaluate: %w", err)
	}
	an, err := model.ParseAnalysis(res.Raw)
	if err != nil {
		metrics.IncParseFailure(res.Provider)
		return model.Analysis{}, "", err
	}
	an.Clamp()
	an.Metadata = model.AnalysisMetadata{
		Model:         res.Model,
		PromptVersion: p.promptVersion,
		Timestamp:     p.now().UTC(),
	}
	if an.Metadata.Model == "" {
		an.Metadata.Model = res.Provider
	}
	return an, model.AttemptStatusScored, nil
}
