package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"practice-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Evaluator = (*GeminiEvaluator)(nil)

// NewGenAIClient creates a Gemini API client. The client is shared by the
// evaluator, the multimodal recognizer and the Imagen generator.
func NewGenAIClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
}

type GeminiEvaluator struct {
	client *genai.Client
	model  string
	maxOut int
}

func NewGeminiEvaluator(client *genai.Client, model string, maxOut int) *GeminiEvaluator {
	return &GeminiEvaluator{client: client, model: modelOrDefault(model, "gemini-1.5-flash"), maxOut: maxOut}
}

func (g *GeminiEvaluator) Name() string { return "gemini" }

func (g *GeminiEvaluator) Evaluate(ctx context.Context, req adapter.EvaluationRequest) (adapter.Evaluation, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = int32(g.maxOut)
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(BuildPrompt(req)), cfg)
	if err != nil {
		return adapter.Evaluation{}, err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return adapter.Evaluation{}, errors.New("gemini: empty response")
	}
	return adapter.Evaluation{Raw: text, Model: g.model, Provider: g.Name()}, nil
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
