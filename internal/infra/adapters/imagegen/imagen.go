package imagegen

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"practice-pipeline/internal/domain/ports/adapter"
)

var _ adapter.ImageGenerator = (*ImagenGenerator)(nil)

// ImagenGenerator renders prompts with a Gemini API Imagen model.
type ImagenGenerator struct {
	client *genai.Client
	model  string
}

func NewImagenGenerator(client *genai.Client, model string) *ImagenGenerator {
	return &ImagenGenerator{client: client, model: model}
}

func (g *ImagenGenerator) Name() string { return "imagen" }

func (g *ImagenGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return nil, err
	}
	for _, gi := range resp.GeneratedImages {
		if gi != nil && gi.Image != nil && len(gi.Image.ImageBytes) > 0 {
			return gi.Image.ImageBytes, nil
		}
	}
	return nil, errors.New("imagen: no image returned")
}
