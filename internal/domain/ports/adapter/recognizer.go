package adapter

import "context"

type Recognition struct {
	Text       string
	Confidence float64
	Provider   string
}

// Recognizer extracts handwritten or printed text from an image.
type Recognizer interface {
	Name() string
	RecognizeText(ctx context.Context, image []byte) (Recognition, error)
}
