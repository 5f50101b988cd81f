//go:build !integration

package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practice-pipeline/internal/config"
	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/infra/memory"
	"practice-pipeline/internal/infra/queue"
	"practice-pipeline/internal/infra/storage"
)

func newImageUC(t *testing.T) (*imageUC, *memory.ImageRepo, *queue.MemoryBroker) {
	t.Helper()
	store, err := storage.NewLocal(config.StorageConfig{Root: t.TempDir(), PublicPrefix: "/uploads"})
	require.NoError(t, err)
	images := memory.NewImageRepo()
	broker := queue.NewMemoryBroker(time.Minute)
	return NewImageUseCase(images, store, queue.New(broker, newTestLogger()), newTestLogger()), images, broker
}

func TestImageUC_UploadDeduplicatesByContent(t *testing.T) {
	ctx := context.Background()
	uc, _, _ := newImageUC(t)
	data := pngBytes(t, 64, 32)

	first, err := uc.Upload(ctx, uuid.NewString(), data, "sheet.png", model.ModeTAT)
	require.NoError(t, err)
	assert.Equal(t, model.ImageSourceUser, first.Source)
	assert.Equal(t, "png", first.Format)
	assert.Equal(t, 64, first.Width)
	assert.Equal(t, 32, first.Height)
	assert.Equal(t, int64(len(data)), first.Bytes)
	assert.Equal(t, "/uploads/"+first.StorageKey, uc.URL(first))

	second, err := uc.Upload(ctx, uuid.NewString(), data, "", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Checksum, second.Checksum)

	got, err := uc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.StorageKey, got.StorageKey)
}

func TestImageUC_UploadRejectsNonImages(t *testing.T) {
	uc, _, _ := newImageUC(t)
	_, err := uc.Upload(context.Background(), uuid.NewString(), []byte("%PDF-1.7 not an image"), "sheet.pdf", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = uc.Upload(context.Background(), uuid.NewString(), nil, "empty.png", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestImageUC_ImportStimulus(t *testing.T) {
	uc, _, _ := newImageUC(t)

	img, err := uc.ImportStimulus(context.Background(), pngBytes(t, 80, 60), "harbour.png", model.ModePPDT)
	require.NoError(t, err)
	assert.Equal(t, model.ImageSourceSeed, img.Source)
	assert.True(t, img.IsPublic)
	assert.Equal(t, model.ModePPDT, img.Mode)

	_, err = uc.ImportStimulus(context.Background(), pngBytes(t, 80, 60), "harbour.png", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "stimuli always carry a mode")
}

func TestImageUC_RequestGeneration(t *testing.T) {
	ctx := context.Background()
	uc, images, broker := newImageUC(t)
	user := uuid.NewString()

	id, err := uc.RequestGeneration(ctx, user, model.ImagePayload{Theme: "village festival", Mode: model.ModeTAT})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	job, err := broker.Claim(ctx, model.QueueImageGenerate, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	var p model.ImagePayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, user, p.RequestedBy)
	assert.Equal(t, "village festival", p.Theme)

	_, err = uc.RequestGeneration(ctx, user, model.ImagePayload{SeedImageID: uuid.NewString()})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = uc.RequestGeneration(ctx, user, model.ImagePayload{Mode: "SRT"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	seed, err := images.Upsert(ctx, nil, &model.Image{Checksum: "seed", StorageKey: "se/seed.png", Source: model.ImageSourceSeed})
	require.NoError(t, err)
	_, err = uc.RequestGeneration(ctx, user, model.ImagePayload{SeedImageID: seed.ID})
	require.NoError(t, err)
}
