package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/rs/zerolog"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/adapter"
	"practice-pipeline/internal/domain/ports/repository"
	"practice-pipeline/internal/infra/imageproc"
	"practice-pipeline/internal/infra/logging"
)

var _ ImageUseCase = (*imageUC)(nil)

// MaxUploadBytes bounds answer sheet uploads.
const MaxUploadBytes = 10 << 20

type ImageUseCase interface {
	RequestGeneration(ctx context.Context, userID string, req model.ImagePayload) (string, error)
	Upload(ctx context.Context, userID string, data []byte, filename string, mode model.Mode) (*model.Image, error)
	ImportStimulus(ctx context.Context, data []byte, filename string, mode model.Mode) (*model.Image, error)
	Get(ctx context.Context, id string) (*model.Image, error)
	URL(img *model.Image) string
}

type imageUC struct {
	images  repository.ImageRepository
	storage adapter.Storage
	queue   adapter.JobQueue
	log     *zerolog.Logger
}

func NewImageUseCase(images repository.ImageRepository, storage adapter.Storage, queue adapter.JobQueue, logger *zerolog.Logger) *imageUC {
	return &imageUC{images: images, storage: storage, queue: queue, log: logger}
}

// RequestGeneration enqueues an image-generate job and returns its id.
func (u *imageUC) RequestGeneration(ctx context.Context, userID string, req model.ImagePayload) (string, error) {
	defer logging.TraceDuration(u.log, "ImageUC.RequestGeneration")()

	if req.Mode != "" && !req.Mode.Valid() {
		return "", fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidArgument, req.Mode)
	}
	if req.SeedImageID != "" {
		if _, err := u.images.FindByID(ctx, nil, req.SeedImageID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "", fmt.Errorf("%w: seed image %s does not exist", domain.ErrInvalidArgument, req.SeedImageID)
			}
			return "", err
		}
	}
	req.RequestedBy = userID
	id, err := u.queue.Enqueue(ctx, req, model.JobOptions{})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPayload) {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		return "", err
	}
	u.log.Info().Str("job_id", id).Str("user_id", userID).Str("theme", req.Theme).Msg("image generation requested")
	return id, nil
}

// Upload stores a user image, usually a photographed answer sheet. Uploading
// the same bytes twice returns the first record.
func (u *imageUC) Upload(ctx context.Context, userID string, data []byte, filename string, mode model.Mode) (*model.Image, error) {
	defer logging.TraceDuration(u.log, "ImageUC.Upload")()

	img, err := u.store(ctx, data, filename, mode, model.ImageSourceUser, false)
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("image_id", img.ID).Str("user_id", userID).Str("checksum", img.Checksum).Msg("image uploaded")
	return img, nil
}

// ImportStimulus adds a public practice picture to the library.
func (u *imageUC) ImportStimulus(ctx context.Context, data []byte, filename string, mode model.Mode) (*model.Image, error) {
	defer logging.TraceDuration(u.log, "ImageUC.ImportStimulus")()

	if !mode.Valid() {
		return nil, fmt.Errorf("%w: stimulus needs a mode", domain.ErrInvalidArgument)
	}
	return u.store(ctx, data, filename, mode, model.ImageSourceSeed, true)
}

func (u *imageUC) store(ctx context.Context, data []byte, filename string, mode model.Mode, source model.ImageSource, public bool) (*model.Image, error) {
	if len(data) == 0 || len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: upload must be between 1 byte and %d bytes", domain.ErrInvalidArgument, MaxUploadBytes)
	}
	if mode != "" && !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidArgument, mode)
	}
	width, height, format, err := imageproc.Dimensions(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if filename == "" || path.Ext(filename) == "" {
		filename = "upload." + format
	}
	saved, err := u.storage.Save(ctx, data, filename, adapter.SaveOptions{ContentType: "image/" + format})
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	img, err := u.images.Upsert(ctx, nil, &model.Image{
		StorageKey: saved.Path,
		Checksum:   saved.Checksum,
		Mode:       mode,
		Source:     source,
		Format:     format,
		Bytes:      saved.Bytes,
		Width:      width,
		Height:     height,
		IsPublic:   public,
	})
	if err != nil {
		return nil, fmt.Errorf("record upload: %w", err)
	}
	return img, nil
}

func (u *imageUC) Get(ctx context.Context, id string) (*model.Image, error) {
	return u.images.FindByID(ctx, nil, id)
}

func (u *imageUC) URL(img *model.Image) string { return u.storage.URL(img.StorageKey) }
