//go:build !integration

package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practice-pipeline/internal/config"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/adapter"
	"practice-pipeline/internal/infra/adapters/ai"
	"practice-pipeline/internal/infra/adapters/imagegen"
	"practice-pipeline/internal/infra/adapters/ocr"
	"practice-pipeline/internal/infra/imageproc"
	"practice-pipeline/internal/infra/memory"
	"practice-pipeline/internal/infra/queue"
	"practice-pipeline/internal/usecase"
)

// pipeline wires the real use case, queue and processors on in-memory backends.
type pipeline struct {
	*env
	queue    *queue.Queue
	attempts usecase.AttemptUseCase
	stop     func()
}

func startPipeline(t *testing.T, rec adapter.Recognizer, ev adapter.Evaluator) *pipeline {
	t.Helper()
	e := newEnv(t)
	q := queue.New(queue.NewMemoryBroker(time.Minute), newTestLogger(),
		queue.WithClaimWait(10*time.Millisecond),
		queue.WithDefaults(model.JobOptions{
			Attempts: 3,
			Backoff:  model.Backoff{Type: model.BackoffExponential, DelayMS: 5},
		}),
	)
	uc := usecase.NewAttemptUseCase(e.attempts, e.images, e.users, memory.TxManager{}, q, e.locker,
		time.Minute, 5*time.Minute, newTestLogger())

	var cfg config.QueueConfig
	cfg.Concurrency.OCR = 2
	cfg.Concurrency.Analyze = 1
	cfg.Concurrency.ImageGenerate = 1
	Register(q, cfg,
		NewOCRProcessor(e.attempts, e.storage, ocr.NewChain(newTestLogger(), time.Second, rec), uc,
			imageproc.Options{}, 10*time.Millisecond, newTestLogger()),
		NewAnalysisProcessor(e.attempts, ai.NewChain(newTestLogger(), time.Second, ev), e.locker,
			time.Minute, "1.0", newTestLogger()),
		NewImageProcessor(e.images, e.storage, imagegen.NewChain(newTestLogger(), time.Second), newTestLogger()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()
	p := &pipeline{env: e, queue: q, attempts: uc, stop: func() { cancel(); <-done }}
	t.Cleanup(p.stop)
	return p
}

func (p *pipeline) waitTerminal(t *testing.T, id string) *model.Attempt {
	t.Helper()
	a, err := p.attempts.WaitForTerminal(context.Background(), id, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	return a
}

func TestPipeline_TypedStoryIsScored(t *testing.T) {
	p := startPipeline(t, &stubRecognizer{err: errors.New("unused")}, ai.NewNoopEvaluator())

	a, err := p.attempts.Create(context.Background(), p.userID, usecase.CreateAttemptInput{
		Mode:         model.ModePPDT,
		ImageID:      p.imageID,
		TimerSeconds: 240,
		StoryText:    "A soldier helps villagers during a flood.",
	})
	require.NoError(t, err)
	assert.Contains(t, []model.AttemptStatus{model.AttemptStatusProcessing, model.AttemptStatusScored}, a.Status)

	got := p.waitTerminal(t, a.ID)
	assert.Equal(t, model.AttemptStatusScored, got.Status)
	require.NotNil(t, got.Score)
	assert.Equal(t, 78, *got.Score)
	require.NotNil(t, got.Feedback)
	assert.Equal(t, "noop-evaluator", got.Feedback.Metadata.Model)
	assert.Equal(t, 8, got.Feedback.PersonalityTraits.Leadership)
	assert.Empty(t, got.OCRText, "typed answers skip extraction")
}

func TestPipeline_AnswerSheetWithBrokenRecognizerIsStillScored(t *testing.T) {
	ctx := context.Background()
	p := startPipeline(t, &stubRecognizer{err: errors.New("vision unavailable")}, ai.NewNoopEvaluator())

	a, err := p.attempts.Create(ctx, p.userID, usecase.CreateAttemptInput{Mode: model.ModeTAT, ImageID: p.imageID})
	require.NoError(t, err)
	answer := p.storeAnswer(t, answerSheet(t))
	_, err = p.attempts.Update(ctx, p.userID, a.ID, usecase.UpdateAttemptInput{AnswerImageID: &answer.ID})
	require.NoError(t, err)

	got := p.waitTerminal(t, a.ID)
	assert.Equal(t, model.AttemptStatusScored, got.Status)
	assert.Equal(t, ocr.FallbackText, got.OCRText)
	assert.Equal(t, ocr.ProviderFallback, got.OCRProvider)
	assert.Equal(t, 78, *got.Score)
}

func TestPipeline_MissingStorageObjectFailsWithoutDegrading(t *testing.T) {
	ctx := context.Background()
	rec := &stubRecognizer{res: adapter.Recognition{Text: "never read", Confidence: 0.9}}
	ev := &stubEvaluator{raw: analysisReply(70, 7)}
	p := startPipeline(t, rec, ev)

	ghost, err := p.images.Upsert(ctx, nil, &model.Image{
		StorageKey: "9a/9a0000000000.png",
		Checksum:   "deleted-object",
		Source:     model.ImageSourceUser,
	})
	require.NoError(t, err)
	a, err := p.attempts.Create(ctx, p.userID, usecase.CreateAttemptInput{Mode: model.ModePPDT, ImageID: p.imageID})
	require.NoError(t, err)
	_, err = p.attempts.Update(ctx, p.userID, a.ID, usecase.UpdateAttemptInput{AnswerImageID: &ghost.ID})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := p.queue.Stats(ctx, model.QueueOCR)
		return err == nil && st.Failed == 1
	}, 3*time.Second, 5*time.Millisecond)

	failed, err := p.queue.Failed(ctx, model.QueueOCR, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, "image object missing from storage")
	assert.Equal(t, 1, failed[0].Attempt, "data-integrity errors are not retried")

	got := p.reload(t, a.ID)
	assert.Equal(t, model.AttemptStatusCompleted, got.Status)
	assert.Empty(t, got.OCRText, "no placeholder text for a data-integrity failure")
	assert.Empty(t, got.OCRProvider)
	assert.EqualValues(t, 0, rec.calls.Load())
	assert.EqualValues(t, 0, ev.calls.Load())

	st, err := p.queue.Stats(ctx, model.QueueAnalyze)
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.Waiting+st.Delayed+st.Active)
}

func (p *pipeline) waitEvaluations(t *testing.T, ev *stubEvaluator, n int32) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := p.queue.Stats(context.Background(), model.QueueAnalyze)
		return err == nil && ev.calls.Load() >= n && st.Waiting+st.Active+st.Delayed == 0
	}, 3*time.Second, 5*time.Millisecond)
}

func TestPipeline_EditedStoryIsRescored(t *testing.T) {
	ctx := context.Background()
	ev := &stubEvaluator{raw: analysisReply(61, 6)}
	p := startPipeline(t, &stubRecognizer{}, ev)

	a, err := p.attempts.Create(ctx, p.userID, usecase.CreateAttemptInput{
		Mode: model.ModePPDT, ImageID: p.imageID, StoryText: "A boy finds a lost dog.",
	})
	require.NoError(t, err)
	p.waitEvaluations(t, ev, 1)
	first := p.waitTerminal(t, a.ID)
	require.Equal(t, 61, *first.Score)

	ev.raw = analysisReply(84, 9)
	edited := "A boy finds a lost dog, organises the neighbours and returns it to its owner."
	_, err = p.attempts.Update(ctx, p.userID, a.ID, usecase.UpdateAttemptInput{StoryText: &edited})
	require.NoError(t, err)

	p.waitEvaluations(t, ev, 2)
	got := p.reload(t, a.ID)
	assert.Equal(t, model.AttemptStatusScored, got.Status)
	assert.Equal(t, edited, got.StoryText)
	assert.Equal(t, 84, *got.Score)
	assert.Equal(t, 9, got.Feedback.PersonalityTraits.Leadership)
}

func TestPipeline_AnalysisCanBeRequestedAgainAfterPermanentFailure(t *testing.T) {
	ctx := context.Background()
	ev := &stubEvaluator{raw: analysisReply(70, 7)}
	p := startPipeline(t, &stubRecognizer{}, ev)

	a, err := p.attempts.Create(ctx, p.userID, usecase.CreateAttemptInput{Mode: model.ModeTAT, ImageID: p.imageID})
	require.NoError(t, err)
	enqueued, err := p.attempts.RequestAnalysis(ctx, a.ID, 0)
	require.NoError(t, err)
	require.True(t, enqueued)

	require.Eventually(t, func() bool {
		st, err := p.queue.Stats(ctx, model.QueueAnalyze)
		return err == nil && st.Failed == 1
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, model.AttemptStatusProcessing, p.reload(t, a.ID).Status)

	story := "The woman at the window waits for her son to come home from the sea."
	_, err = p.attempts.Update(ctx, p.userID, a.ID, usecase.UpdateAttemptInput{StoryText: &story})
	require.NoError(t, err)

	got := p.waitTerminal(t, a.ID)
	assert.Equal(t, model.AttemptStatusScored, got.Status)
	assert.Equal(t, 70, *got.Score)
	assert.EqualValues(t, 1, ev.calls.Load())
}

func TestPipeline_EvaluatorDownEndsScoringFailed(t *testing.T) {
	ev := &stubEvaluator{err: errors.New("upstream 503")}
	p := startPipeline(t, &stubRecognizer{}, ev)

	a, err := p.attempts.Create(context.Background(), p.userID, usecase.CreateAttemptInput{
		Mode: model.ModePPDT, ImageID: p.imageID, StoryText: "The captain rallies the villagers.",
	})
	require.NoError(t, err)

	got := p.waitTerminal(t, a.ID)
	assert.Equal(t, model.AttemptStatusScoringFailed, got.Status)
	assert.True(t, got.Feedback.IsFallback())
	assert.EqualValues(t, 3, ev.calls.Load(), "one evaluator call per delivery")
}

func TestPipeline_ImageGenerationFallsBackToPlaceholder(t *testing.T) {
	ctx := context.Background()
	p := startPipeline(t, &stubRecognizer{}, ai.NewNoopEvaluator())

	_, err := p.queue.Enqueue(ctx, model.ImagePayload{Theme: "fishermen at dawn", Mode: model.ModePPDT}, model.JobOptions{})
	require.NoError(t, err)

	want, err := imagegen.DrawPlaceholder(imagegen.BuildPrompt(model.ImagePayload{Theme: "fishermen at dawn", Mode: model.ModePPDT}))
	require.NoError(t, err)
	sum := sha256.Sum256(want)

	require.Eventually(t, func() bool {
		st, err := p.queue.Stats(ctx, model.QueueImageGenerate)
		return err == nil && st.Waiting == 0 && st.Active == 0 && st.Delayed == 0
	}, 3*time.Second, 5*time.Millisecond)

	// Upsert hands back the stored row when the checksum is known.
	img, err := p.images.Upsert(ctx, nil, &model.Image{Checksum: hex.EncodeToString(sum[:])})
	require.NoError(t, err)
	assert.Equal(t, model.ImageSourceAI, img.Source)
	assert.Equal(t, model.ModePPDT, img.Mode)
	stored, err := p.storage.Fetch(ctx, img.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, want, stored)
}
