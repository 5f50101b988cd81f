package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/ports/adapter"
	"practice-pipeline/internal/infra/metrics"
)

var _ adapter.Evaluator = (*Chain)(nil)

// Chain tries evaluators in order and returns the first reply. Every
// candidate gets the same timeout.
type Chain struct {
	evaluators []adapter.Evaluator
	timeout    time.Duration
	log        *zerolog.Logger
}

func NewChain(log *zerolog.Logger, timeout time.Duration, evaluators ...adapter.Evaluator) *Chain {
	return &Chain{evaluators: evaluators, timeout: timeout, log: log}
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Evaluate(ctx context.Context, req adapter.EvaluationRequest) (adapter.Evaluation, error) {
	if len(c.evaluators) == 0 {
		return adapter.Evaluation{}, domain.ErrNoProviderAvailable
	}
	var errs []error
	for _, ev := range c.evaluators {
		if err := ctx.Err(); err != nil {
			return adapter.Evaluation{}, err
		}
		res, err := c.try(ctx, ev, req)
		if err == nil {
			return res, nil
		}
		c.log.Warn().Err(err).Str("provider", ev.Name()).Str("attempt_id", req.AttemptID).Msg("evaluator failed")
		errs = append(errs, fmt.Errorf("%s: %w", ev.Name(), err))
	}
	return adapter.Evaluation{}, fmt.Errorf("%w: %w", domain.ErrNoProviderAvailable, errors.Join(errs...))
}

func (c *Chain) try(ctx context.Context, ev adapter.Evaluator, req adapter.EvaluationRequest) (adapter.Evaluation, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := ev.Evaluate(ctx, req)
	metrics.ObserveEvaluatorCall(ev.Name(), res.Model, time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return adapter.Evaluation{}, err
	}
	if res.Provider == "" {
		res.Provider = ev.Name()
	}
	return res, nil
}
