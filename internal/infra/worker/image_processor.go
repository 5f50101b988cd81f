package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/adapter"
	"practice-pipeline/internal/domain/ports/repository"
	"practice-pipeline/internal/infra/adapters/imagegen"
	"practice-pipeline/internal/infra/imageproc"
	"practice-pipeline/internal/infra/queue"
)

// ImageSource produces image bytes for a prompt and names their origin.
type ImageSource interface {
	Generate(ctx context.Context, prompt string) ([]byte, string, error)
}

type ImageProcessor struct {
	images  repository.ImageRepository
	storage adapter.Storage
	source  ImageSource
	log     *zerolog.Logger
}

func NewImageProcessor(images repository.ImageRepository, storage adapter.Storage, source ImageSource, log *zerolog.Logger) *ImageProcessor {
	return &ImageProcessor{images: images, storage: storage, source: source, log: log}
}

func (p *ImageProcessor) Handle(ctx context.Context, job *model.Job) error {
	payload, err := queue.DecodePayload[model.ImagePayload](job)
	if err != nil {
		return err
	}
	prompt := imagegen.BuildPrompt(payload)

	data, generator, err := p.source.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate image: %w", err)
	}
	width, height, format, err := imageproc.Dimensions(data)
	if err != nil {
		p.log.Warn().Err(err).Str("generator", generator).Msg("generated bytes are not an image, drawing placeholder")
		if data, err = imagegen.DrawPlaceholder(prompt); err != nil {
			return err
		}
		generator = imagegen.Placeholder{}.Name()
		width, height, format = imagegen.PlaceholderWidth, imagegen.PlaceholderHeight, "png"
	}

	saved, err := p.storage.Save(ctx, data, "generated."+format, adapter.SaveOptions{ContentType: "image/" + format})
	if err != nil {
		return fmt.Errorf("save generated image: %w", err)
	}
	img, err := p.images.Upsert(ctx, nil, &model.Image{
		StorageKey: saved.Path,
		Checksum:   saved.Checksum,
		Mode:       imagegen.ModeFor(payload),
		Source:     model.ImageSourceAI,
		Format:     format,
		Bytes:      saved.Bytes,
		Width:      width,
		Height:     height,
	})
	if err != nil {
		return fmt.Errorf("record generated image: %w", err)
	}
	p.log.Info().
		Str("job_id", job.ID).
		Str("image_id", img.ID).
		Str("generator", generator).
		Str("storage_key", img.StorageKey).
		Msg("image generated")
	return nil
}
