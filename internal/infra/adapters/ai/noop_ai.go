package ai

import (
	"context"
	"time"

	"practice-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Evaluator = (*NoopEvaluator)(nil)

// NoopEvalReply is the canned analysis the dev evaluator returns.
const NoopEvalReply = "```json\n" + `{
  "score_overall": 78,
  "strengths": ["Clear problem identification", "Takes initiative"],
  "weaknesses": ["Resolution is brief"],
  "personality_traits": {
    "leadership": 8,
    "creativity": 6,
    "analytical_thinking": 7,
    "emotional_intelligence": 7,
    "communication": 7
  },
  "suggested_rewrite": "Expand on how the hero coordinates the group before acting.",
  "explanation": "A structured story with a proactive protagonist."
}` + "\n```"

// NoopEvaluator is used in dev mode and tests. It never calls out.
type NoopEvaluator struct {
	Delay time.Duration
}

func NewNoopEvaluator() *NoopEvaluator {
	return &NoopEvaluator{Delay: 10 * time.Millisecond}
}

func (a *NoopEvaluator) Name() string { return "noop" }

func (a *NoopEvaluator) Evaluate(ctx context.Context, _ adapter.EvaluationRequest) (adapter.Evaluation, error) {
	select {
	case <-time.After(a.Delay):
	case <-ctx.Done():
		return adapter.Evaluation{}, ctx.Err()
	}
	return adapter.Evaluation{Raw: NoopEvalReply, Model: "noop-evaluator", Provider: a.Name()}, nil
}
