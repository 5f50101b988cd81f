package adapter

import "context"

type ImageGenerator interface {
	Name() string
	Generate(ctx context.Context, prompt string) ([]byte, error)
}
