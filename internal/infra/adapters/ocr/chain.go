package ocr

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"practice-pipeline/internal/domain/ports/adapter"
	"practice-pipeline/internal/infra/metrics"
)

const (
	ProviderFallback   = "fallback-ocr"
	FallbackText       = "Fallback OCR text"
	FallbackConfidence = 0.5
)

var _ adapter.Recognizer = (*Chain)(nil)

// Chain runs recognizers in order and returns the first non-empty text.
// It never fails: when every recognizer errors or finds nothing the
// placeholder recognition is returned.
type Chain struct {
	recognizers []adapter.Recognizer
	timeout     time.Duration
	log         *zerolog.Logger
}

func NewChain(log *zerolog.Logger, timeout time.Duration, recognizers ...adapter.Recognizer) *Chain {
	return &Chain{recognizers: recognizers, timeout: timeout, log: log}
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) RecognizeText(ctx context.Context, image []byte) (adapter.Recognition, error) {
	for _, r := range c.recognizers {
		if ctx.Err() != nil {
			break
		}
		res, err := c.try(ctx, r, image)
		if err != nil {
			c.log.Warn().Err(err).Str("provider", r.Name()).Msg("recognizer failed, trying next")
			continue
		}
		if strings.TrimSpace(res.Text) == "" {
			c.log.Debug().Str("provider", r.Name()).Msg("recognizer found no text")
			continue
		}
		if res.Provider == "" {
			res.Provider = r.Name()
		}
		metrics.IncRecognition(res.Provider)
		return res, nil
	}
	metrics.IncRecognition(ProviderFallback)
	return Fallback(), nil
}

func (c *Chain) try(ctx context.Context, r adapter.Recognizer, image []byte) (adapter.Recognition, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return r.RecognizeText(ctx, image)
}

// Fallback is the placeholder recognition stored when no recognizer succeeds.
func Fallback() adapter.Recognition {
	return adapter.Recognition{Text: FallbackText, Confidence: FallbackConfidence, Provider: ProviderFallback}
}
