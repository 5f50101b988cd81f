package adapter

import (
	"context"

	"practice-pipeline/internal/domain/model"
)

// EvaluationRequest is the context handed to a generative evaluator.
type EvaluationRequest struct {
	AttemptID     string
	Mode          model.Mode
	StimulusKey   string
	StoryText     string
	OCRText       string
	PromptVersion string
}

// Text returns what the user wrote, preferring the typed story.
func (r EvaluationRequest) Text() string {
	if r.StoryText != "" {
		return r.StoryText
	}
	return r.OCRText
}

// Evaluation is an evaluator's unparsed reply.
type Evaluation struct {
	Raw      string
	Model    string
	Provider string
}

type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, req EvaluationRequest) (Evaluation, error)
}
