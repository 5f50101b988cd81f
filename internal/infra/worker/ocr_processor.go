// Package worker holds the job handlers of the attempt pipeline.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/adapter"
	"practice-pipeline/internal/domain/ports/repository"
	"practice-pipeline/internal/domain/ports/usecase"
	"practice-pipeline/internal/infra/adapters/ocr"
	"practice-pipeline/internal/infra/imageproc"
	"practice-pipeline/internal/infra/queue"
)

// OCRProcessor extracts the text of an answer image and hands the attempt
// to analysis.
type OCRProcessor struct {
	attempts      repository.AttemptRepository
	storage       adapter.Storage
	recognizer    adapter.Recognizer
	trigger       usecase.AnalysisTrigger
	preprocess    imageproc.Options
	analysisDelay time.Duration
	log           *zerolog.Logger
}

func NewOCRProcessor(
	attempts repository.AttemptRepository,
	storage adapter.Storage,
	recognizer adapter.Recognizer,
	trigger usecase.AnalysisTrigger,
	preprocess imageproc.Options,
	analysisDelay time.Duration,
	log *zerolog.Logger,
) *OCRProcessor {
	return &OCRProcessor{
		attempts:      attempts,
		storage:       storage,
		recognizer:    recognizer,
		trigger:       trigger,
		preprocess:    preprocess,
		analysisDelay: analysisDelay,
		log:           log,
	}
}

func (p *OCRProcessor) Handle(ctx context.Context, job *model.Job) error {
	payload, err := queue.DecodePayload[model.OCRPayload](job)
	if err != nil {
		return err
	}
	log := p.log.With().Str("attempt_id", payload.AttemptID).Str("job_id", job.ID).Logger()

	a, err := p.attempts.FindWithRelations(ctx, nil, payload.AttemptID)
	if err != nil {
		return fmt.Errorf("load attempt: %w", err)
	}
	if a.AnswerImageID == "" || a.AnswerImage == nil {
		return domain.ErrAnswerImageMissing
	}

	raw, err := p.storage.Fetch(ctx, a.AnswerImage.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch answer image: %w", err)
	}
	img, err := imageproc.Preprocess(raw, p.preprocess)
	if err != nil {
		return fmt.Errorf("preprocess answer image: %w", err)
	}

	rec, err := p.recognizer.RecognizeText(ctx, img)
	if err != nil || strings.TrimSpace(rec.Text) == "" {
		log.Warn().Err(err).Msg("recognition unavailable, storing placeholder text")
		rec = ocr.Fallback()
	}

	if _, err := p.attempts.UpdateOCR(ctx, nil, a.ID, model.OCRResult{
		Text:       rec.Text,
		Provider:   rec.Provider,
		Confidence: rec.Confidence,
	}); err != nil {
		return fmt.Errorf("store ocr result: %w", err)
	}
	log.Info().Str("provider", rec.Provider).Float64("confidence", rec.Confidence).Msg("ocr stored")

	if strings.TrimSpace(rec.Text) == "" {
		return nil
	}
	if _, err := p.trigger.RequestAnalysis(ctx, a.ID, p.analysisDelay); err != nil {
		return fmt.Errorf("request analysis: %w", err)
	}
	return nil
}
