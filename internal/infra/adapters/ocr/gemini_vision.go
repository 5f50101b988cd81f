package ocr

import (
	"context"

	"google.golang.org/genai"

	"practice-pipeline/internal/domain/ports/adapter"
)

const ProviderGeminiVision = "gemini-vision"

const transcribePrompt = "Transcribe all handwritten or printed text in this image exactly as written. " +
	"Return only the text, without commentary. Return an empty reply if there is no text."

var _ adapter.Recognizer = (*GeminiRecognizer)(nil)

// GeminiRecognizer transcribes text with a multimodal Gemini model.
type GeminiRecognizer struct {
	client *genai.Client
	model  string
}

func NewGeminiRecognizer(client *genai.Client, model string) *GeminiRecognizer {
	return &GeminiRecognizer{client: client, model: model}
}

func (g *GeminiRecognizer) Name() string { return ProviderGeminiVision }

func (g *GeminiRecognizer) RecognizeText(ctx context.Context, image []byte) (adapter.Recognition, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(image, "image/png"),
		genai.NewPartFromText(transcribePrompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return adapter.Recognition{}, err
	}
	return adapter.Recognition{Text: resp.Text(), Confidence: 0.9, Provider: ProviderGeminiVision}, nil
}
