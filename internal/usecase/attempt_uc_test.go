//go:build !integration

package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/infra/memory"
	"practice-pipeline/internal/infra/queue"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type fixture struct {
	attempts *memory.AttemptRepo
	images   *memory.ImageRepo
	users    *memory.UserRepo
	locker   *memory.Locker
	broker   *queue.MemoryBroker
	queue    *queue.Queue
	uc       *attemptUC
	imageID  string
	userID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		images: memory.NewImageRepo(),
		users:  memory.NewUserRepo(),
		locker: memory.NewLocker(),
		broker: queue.NewMemoryBroker(time.Minute),
		userID: uuid.NewString(),
	}
	f.attempts = memory.NewAttemptRepo(f.images, f.users)
	f.queue = queue.New(f.broker, newTestLogger())
	f.uc = NewAttemptUseCase(f.attempts, f.images, f.users, memory.TxManager{}, f.queue, f.locker,
		10*time.Minute, 5*time.Minute, newTestLogger())

	img, err := f.images.Upsert(context.Background(), nil, &model.Image{
		StorageKey: "ab/stimulus.png",
		Checksum:   "stimulus-checksum",
		Mode:       model.ModePPDT,
		Source:     model.ImageSourceSeed,
		IsPublic:   true,
	})
	require.NoError(t, err)
	f.imageID = img.ID
	return f
}

func (f *fixture) stats(t *testing.T, q model.QueueName) model.QueueStats {
	t.Helper()
	st, err := f.queue.Stats(context.Background(), q)
	require.NoError(t, err)
	return st
}

func (f *fixture) answerImage(t *testing.T) string {
	t.Helper()
	img, err := f.images.Upsert(context.Background(), nil, &model.Image{
		StorageKey: "cd/answer.png",
		Checksum:   "answer-" + uuid.NewString(),
		Source:     model.ImageSourceUser,
	})
	require.NoError(t, err)
	return img.ID
}

func TestAttemptUC_CreateWithTextRequestsAnalysisOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.uc.Create(ctx, f.userID, CreateAttemptInput{
		Mode:         model.ModePPDT,
		ImageID:      f.imageID,
		TimerSeconds: 240,
		StoryText:    "A soldier helps villagers during a flood.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusProcessing, a.Status)

	_, err = f.users.FindByID(ctx, nil, f.userID)
	require.NoError(t, err, "creating an attempt registers its user")

	assert.EqualValues(t, 1, f.stats(t, model.QueueAnalyze).Waiting)

	// The OCR path converging on the same attempt must not enqueue again.
	enqueued, err := f.uc.RequestAnalysis(ctx, a.ID, time.Second)
	require.NoError(t, err)
	assert.False(t, enqueued)
	st := f.stats(t, model.QueueAnalyze)
	assert.EqualValues(t, 1, st.Waiting)
	assert.EqualValues(t, 0, st.Delayed)

	job, err := f.broker.Claim(ctx, model.QueueAnalyze, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	var p model.AnalyzePayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, a.ID, p.AttemptID)
	assert.Equal(t, model.DefaultMaxAttempts, job.MaxAttempts)
	require.NotEmpty(t, p.DedupToken)

	// The worker clears the marker with the job's token; the next edit queues again.
	require.NoError(t, f.locker.Unlock(ctx, model.AnalysisDedupKey(a.ID), p.DedupToken))
	enqueued, err = f.uc.RequestAnalysis(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.True(t, enqueued)
	assert.EqualValues(t, 1, f.stats(t, model.QueueAnalyze).Waiting)
}

func TestAttemptUC_CreateWithoutTextStaysInProgress(t *testing.T) {
	f := newFixture(t)
	a, err := f.uc.Create(context.Background(), f.userID, CreateAttemptInput{Mode: model.ModeTAT, ImageID: f.imageID})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusInProgress, a.Status)
	assert.EqualValues(t, 0, f.stats(t, model.QueueAnalyze).Waiting)
}

func TestAttemptUC_CreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.uc.Create(ctx, f.userID, CreateAttemptInput{Mode: model.ModePPDT, ImageID: uuid.NewString()})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.uc.Create(ctx, f.userID, CreateAttemptInput{Mode: "SRT", ImageID: f.imageID})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.uc.Create(ctx, f.userID, CreateAttemptInput{Mode: model.ModePPDT, ImageID: f.imageID, TimerSeconds: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAttemptUC_UpdateAnswerImageRequestsOCR(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.uc.Create(ctx, f.userID, CreateAttemptInput{Mode: model.ModePPDT, ImageID: f.imageID})
	require.NoError(t, err)

	answer := f.answerImage(t)
	got, err := f.uc.Update(ctx, f.userID, a.ID, UpdateAttemptInput{AnswerImageID: &answer})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusCompleted, got.Status)
	assert.Equal(t, answer, got.AnswerImageID)
	assert.EqualValues(t, 1, f.stats(t, model.QueueOCR).Waiting)
	assert.EqualValues(t, 0, f.stats(t, model.QueueAnalyze).Waiting)

	// Re-sending the same image does not queue a second extraction.
	_, err = f.uc.Update(ctx, f.userID, a.ID, UpdateAttemptInput{AnswerImageID: &answer})
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.stats(t, model.QueueOCR).Waiting)

	missing := uuid.NewString()
	_, err = f.uc.Update(ctx, f.userID, a.ID, UpdateAttemptInput{AnswerImageID: &missing})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAttemptUC_UpdateStatusRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.uc.Create(ctx, f.userID, CreateAttemptInput{Mode: model.ModePPDT, ImageID: f.imageID})
	require.NoError(t, err)

	status := func(s model.AttemptStatus) *model.AttemptStatus { return &s }

	_, err = f.uc.Update(ctx, f.userID, a.ID, UpdateAttemptInput{Status: status(model.AttemptStatusScored)})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.uc.Update(ctx, f.userID, a.ID, UpdateAttemptInput{Status: status(model.AttemptStatusProcessing)})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "nothing to analyze yet")

	_, err = f.uc.Update(ctx, uuid.NewString(), a.ID, UpdateAttemptInput{Status: status(model.AttemptStatusCompleted)})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.uc.Update(ctx, f.userID, a.ID, UpdateAttemptInput{Status: status(model.AttemptStatusCompleted)})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusCompleted, got.Status)

	// Backward requests keep the current status.
	got, err = f.uc.Update(ctx, f.userID, a.ID, UpdateAttemptInput{Status: status(model.AttemptStatusInProgress)})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusCompleted, got.Status)

	text := "She organises the rescue team and reaches the stranded family."
	got, err = f.uc.Update(ctx, f.userID, a.ID, UpdateAttemptInput{StoryText: &text, Status: status(model.AttemptStatusProcessing)})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusProcessing, got.Status)
	assert.Equal(t, text, got.StoryText)
	assert.EqualValues(t, 1, f.stats(t, model.QueueAnalyze).Waiting)
}

type failingQueue struct{ err error }

func (q failingQueue) Enqueue(context.Context, model.JobPayload, model.JobOptions) (string, error) {
	return "", q.err
}

func TestAttemptUC_RequestAnalysisReleasesDedupOnEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.uc.Create(ctx, f.userID, CreateAttemptInput{Mode: model.ModePPDT, ImageID: f.imageID})
	require.NoError(t, err)

	broken := errors.New("redis down")
	f.uc.queue = failingQueue{err: broken}
	_, err = f.uc.RequestAnalysis(ctx, a.ID, 0)
	require.ErrorIs(t, err, broken)

	token, ok, err := f.locker.TryLock(ctx, model.AnalysisDedupKey(a.ID), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "a failed request must not block the next one")
	require.NoError(t, f.locker.Unlock(ctx, model.AnalysisDedupKey(a.ID), token))

	_, err = f.uc.RequestAnalysis(ctx, uuid.NewString(), 0)
	assert.ErrorIs(t, err, domain.ErrAttemptNotFound)
}

func TestAttemptUC_RequestOCRNeedsAnswerImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.uc.Create(ctx, f.userID, CreateAttemptInput{Mode: model.ModePPDT, ImageID: f.imageID})
	require.NoError(t, err)

	assert.ErrorIs(t, f.uc.RequestOCR(ctx, a.ID), domain.ErrAnswerImageMissing)
	assert.EqualValues(t, 0, f.stats(t, model.QueueOCR).Waiting)
}

func TestAttemptUC_GetFlagsStalledAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.uc.Create(ctx, f.userID, CreateAttemptInput{
		Mode: model.ModePPDT, ImageID: f.imageID, StoryText: "They build a raft.",
	})
	require.NoError(t, err)

	v, err := f.uc.Get(ctx, f.userID, a.ID)
	require.NoError(t, err)
	assert.False(t, v.Stalled)

	f.uc.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	v, err = f.uc.Get(ctx, f.userID, a.ID)
	require.NoError(t, err)
	assert.True(t, v.Stalled)
	assert.Equal(t, "analysis unavailable, try again", v.Message)

	_, err = f.uc.Get(ctx, uuid.NewString(), a.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAttemptUC_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var ids []string
	for i := 0; i < 3; i++ {
		a, err := f.uc.Create(ctx, f.userID, CreateAttemptInput{Mode: model.ModeTAT, ImageID: f.imageID})
		require.NoError(t, err)
		ids = append(ids, a.ID)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := f.uc.Create(ctx, uuid.NewString(), CreateAttemptInput{Mode: model.ModeTAT, ImageID: f.imageID})
	require.NoError(t, err)

	list, err := f.uc.List(ctx, f.userID, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[0], list[2].ID)

	list, err = f.uc.List(ctx, f.userID, 1, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ids[1], list[0].ID)
}

func TestAttemptUC_WaitForTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.uc.Create(ctx, f.userID, CreateAttemptInput{
		Mode: model.ModePPDT, ImageID: f.imageID, StoryText: "The doctor crosses the river.",
	})
	require.NoError(t, err)

	got, err := f.uc.WaitForTerminal(ctx, a.ID, 30*time.Millisecond, 5*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrAnalysisStalled)
	require.NotNil(t, got)
	assert.Equal(t, model.AttemptStatusProcessing, got.Status)

	go func() {
		time.Sleep(20 * time.Millisecond)
		an := model.FallbackAnalysis("1.0", time.Now())
		_, _ = f.attempts.UpdateAnalysis(ctx, nil, a.ID, an, model.AttemptStatusScoringFailed)
	}()
	got, err = f.uc.WaitForTerminal(ctx, a.ID, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusScoringFailed, got.Status)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.SetGray(x, x%h, color.Gray{Y: uint8(x * 7)})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
