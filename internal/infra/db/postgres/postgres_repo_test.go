//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
)

type fixture struct {
	users    *UserRepo
	images   *ImageRepo
	attempts *AttemptRepo
	user     *model.User
	image    *model.Image
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cleanup(t)
	ctx := context.Background()
	f := &fixture{users: NewUserRepo(testPool), images: NewImageRepo(testPool)}
	f.attempts = NewAttemptRepo(testPool, NewTxManager(testPool), f.images, f.users)

	f.user = &model.User{ID: uuid.NewString(), Email: "cadet@example.com", Name: "Cadet", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.users.Save(ctx, nil, f.user))

	img, err := f.images.Upsert(ctx, nil, &model.Image{
		StorageKey: "ab/abc.png", Checksum: "abc", Mode: model.ModePPDT,
		Source: model.ImageSourceSeed, Format: "png", Bytes: 10, Width: 800, Height: 600, IsPublic: true,
	})
	require.NoError(t, err)
	f.image = img
	return f
}

func (f *fixture) newAttempt(t *testing.T) *model.Attempt {
	t.Helper()
	a, err := model.NewAttempt(f.user.ID, model.ModePPDT, f.image.ID, 240)
	require.NoError(t, err)
	require.NoError(t, f.attempts.Save(context.Background(), nil, a))
	return a
}

func TestUserRepo_Integration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.users.FindByID(ctx, nil, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "cadet@example.com", got.Email)

	_, err = f.users.FindByID(ctx, nil, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestImageRepo_UpsertIsContentAddressed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	again, err := f.images.Upsert(ctx, nil, &model.Image{
		StorageKey: "ab/abc.png", Checksum: "abc", Source: model.ImageSourceAI, Format: "png",
	})
	require.NoError(t, err)
	assert.Equal(t, f.image.ID, again.ID, "same checksum must resolve to the stored row")
	assert.Equal(t, model.ImageSourceSeed, again.Source)
}

func TestAttemptRepo_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newAttempt(t)

	story := "The group spotted smoke near the village and organised help."
	completed := model.AttemptStatusCompleted
	got, err := f.attempts.UpdateSubmission(ctx, nil, a.ID, model.Submission{StoryText: &story, Status: &completed})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusCompleted, got.Status)

	got, err = f.attempts.UpdateStatus(ctx, nil, a.ID, model.AttemptStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusProcessing, got.Status)

	_, err = f.attempts.UpdateStatus(ctx, nil, a.ID, model.AttemptStatusCompleted)
	assert.ErrorIs(t, err, domain.ErrTransitionRejected)

	an := model.FallbackAnalysis("1.0", time.Now().UTC())
	an.ScoreOverall = 78
	got, err = f.attempts.UpdateAnalysis(ctx, nil, a.ID, an, model.AttemptStatusScored)
	require.NoError(t, err)
	require.NotNil(t, got.Score)
	assert.Equal(t, 78, *got.Score)

	_, err = f.attempts.UpdateAnalysis(ctx, nil, a.ID, model.FallbackAnalysis("1.0", time.Now()), model.AttemptStatusScoringFailed)
	assert.ErrorIs(t, err, domain.ErrTransitionRejected)

	stored, err := f.attempts.FindByID(ctx, nil, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusScored, stored.Status)
	require.NotNil(t, stored.Feedback)
	assert.Equal(t, 78, stored.Feedback.ScoreOverall)
	assert.Equal(t, story, stored.StoryText)
}

func TestAttemptRepo_OCRDoesNotRegressStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newAttempt(t)

	_, err := f.attempts.UpdateStatus(ctx, nil, a.ID, model.AttemptStatusProcessing)
	require.NoError(t, err)

	got, err := f.attempts.UpdateOCR(ctx, nil, a.ID, model.OCRResult{Text: "hand written", Provider: "vision", Confidence: 0.9})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusProcessing, got.Status)
	assert.Equal(t, "hand written", got.OCRText)
	require.NotNil(t, got.OCRConfidence)
	assert.InDelta(t, 0.9, *got.OCRConfidence, 1e-9)
}

func TestAttemptRepo_FindWithRelationsAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.newAttempt(t)
	second := f.newAttempt(t)

	rel, err := f.attempts.FindWithRelations(ctx, nil, first.ID)
	require.NoError(t, err)
	assert.Equal(t, f.image.ID, rel.Image.ID)
	assert.Nil(t, rel.AnswerImage)
	require.NotNil(t, rel.User)
	assert.Equal(t, f.user.ID, rel.User.ID)

	list, err := f.attempts.ListByUser(ctx, nil, f.user.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	_, err = f.attempts.FindByID(ctx, nil, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrAttemptNotFound)
	_, err = f.attempts.UpdateStatus(ctx, nil, uuid.NewString(), model.AttemptStatusProcessing)
	assert.ErrorIs(t, err, domain.ErrAttemptNotFound)
}
