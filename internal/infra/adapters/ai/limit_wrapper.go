package ai

import (
	"context"

	"practice-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Evaluator = (*limitedEvaluator)(nil)

type limitedEvaluator struct {
	inner adapter.Evaluator
	sem   chan struct{}
}

// NewLimited caps the number of concurrent Evaluate calls on inner.
func NewLimited(inner adapter.Evaluator, maxConcurrent int) adapter.Evaluator {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedEvaluator{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedEvaluator) Name() string { return l.inner.Name() }

func (l *limitedEvaluator) Evaluate(ctx context.Context, req adapter.EvaluationRequest) (adapter.Evaluation, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return adapter.Evaluation{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Evaluate(ctx, req)
}
