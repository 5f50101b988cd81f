package adapter

import "context"

type SaveOptions struct {
	ContentType string
}

type SaveResult struct {
	Path     string
	Checksum string
	Bytes    int64
}

// Storage is a content-addressed blob store. Saving identical bytes twice
// yields the same checksum and path.
type Storage interface {
	Save(ctx context.Context, data []byte, name string, opts SaveOptions) (SaveResult, error)
	Fetch(ctx context.Context, pathOrURL string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	URL(path string) string
}
