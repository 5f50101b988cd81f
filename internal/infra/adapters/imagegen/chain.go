// Package imagegen produces stimulus images from text prompts.
package imagegen

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"practice-pipeline/internal/domain/ports/adapter"
	"practice-pipeline/internal/infra/imageproc"
	"practice-pipeline/internal/infra/metrics"
)

// Chain tries each generator once with the same timeout and draws the
// placeholder when none produces a decodable image.
type Chain struct {
	generators []adapter.ImageGenerator
	timeout    time.Duration
	log        *zerolog.Logger
}

func NewChain(log *zerolog.Logger, timeout time.Duration, generators ...adapter.ImageGenerator) *Chain {
	return &Chain{generators: generators, timeout: timeout, log: log}
}

// Generate returns the image bytes and the name of the generator that made them.
func (c *Chain) Generate(ctx context.Context, prompt string) ([]byte, string, error) {
	for _, g := range c.generators {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		data, err := c.try(ctx, g, prompt)
		if err != nil {
			c.log.Warn().Err(err).Str("generator", g.Name()).Msg("image generator failed")
			continue
		}
		if _, _, _, err := imageproc.Dimensions(data); err != nil {
			c.log.Warn().Err(err).Str("generator", g.Name()).Int("bytes", len(data)).Msg("image generator returned unusable data")
			continue
		}
		metrics.IncImageGenerated(g.Name())
		return data, g.Name(), nil
	}
	c.log.Info().Msg("all image generators failed, drawing placeholder")
	data, err := DrawPlaceholder(prompt)
	if err != nil {
		return nil, "", err
	}
	metrics.IncImageGenerated(Placeholder{}.Name())
	return data, Placeholder{}.Name(), nil
}

func (c *Chain) try(ctx context.Context, g adapter.ImageGenerator, prompt string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return g.Generate(ctx, prompt)
}
