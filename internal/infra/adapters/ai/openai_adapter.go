package ai

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"practice-pipeline/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.Evaluator = (*OpenAIEvaluator)(nil)

// OpenAIEvaluator scores answers through the Chat Completions API. Any
// OpenAI-compatible gateway works by setting the base URL.
type OpenAIEvaluator struct {
	client openai.Client
	model  string
	maxOut int
}

func NewOpenAIEvaluator(apiKey, baseURL, model string, maxOut int) (*OpenAIEvaluator, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEvaluator{
		client: openai.NewClient(opts...),
		model:  modelOrDefault(model, "gpt-4o-mini"),
		maxOut: maxOut,
	}, nil
}

func (o *OpenAIEvaluator) Name() string { return "openai" }

func (o *OpenAIEvaluator) Evaluate(ctx context.Context, req adapter.EvaluationRequest) (adapter.Evaluation, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemInstruction),
			openai.UserMessage(BuildPrompt(req)),
		},
	}
	if o.maxOut > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.maxOut))
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return adapter.Evaluation{}, err
	}
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			return adapter.Evaluation{Raw: c.Message.Content, Model: o.model, Provider: o.Name()}, nil
		}
	}
	return adapter.Evaluation{}, errors.New("no choice content")
}
