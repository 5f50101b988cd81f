// Package storage holds the content-addressed blob store for images.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"practice-pipeline/internal/config"
	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Storage = (*Local)(nil)

// maxFetchBytes caps remote downloads.
const maxFetchBytes = 32 << 20

// Local stores blobs under root as <checksum[:2]>/<checksum><ext>.
type Local struct {
	root   string
	prefix string
	client *http.Client
}

func NewLocal(cfg config.StorageConfig) (*Local, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Local{
		root:   root,
		prefix: strings.TrimRight(cfg.PublicPrefix, "/"),
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Save writes data addressed by its sha256. Identical bytes map to the same
// path, so a second save is a no-op.
func (s *Local) Save(ctx context.Context, data []byte, name string, opts adapter.SaveOptions) (adapter.SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return adapter.SaveResult{}, err
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	rel := path.Join(checksum[:2], checksum+extension(name, opts.ContentType))

	full, err := s.resolve(rel)
	if err != nil {
		return adapter.SaveResult{}, err
	}
	res := adapter.SaveResult{Path: rel, Checksum: checksum, Bytes: int64(len(data))}
	if _, err := os.Stat(full); err == nil {
		return res, nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return adapter.SaveResult{}, fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return adapter.SaveResult{}, fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return adapter.SaveResult{}, fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return adapter.SaveResult{}, fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return adapter.SaveResult{}, fmt.Errorf("commit object: %w", err)
	}
	return res, nil
}

// Fetch reads a stored object by path, public URL path or absolute http(s) URL.
// A missing object is reported as domain.ErrImageObjectMissing.
func (s *Local) Fetch(ctx context.Context, pathOrURL string) ([]byte, error) {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return s.fetchRemote(ctx, pathOrURL)
	}
	rel := strings.TrimPrefix(pathOrURL, s.prefix+"/")
	full, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrImageObjectMissing, rel)
	}
	return data, err
}

func (s *Local) fetchRemote(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", domain.ErrImageObjectMissing, url)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
}

func (s *Local) Delete(_ context.Context, p string) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// URL returns the public path the web server exposes the object under.
func (s *Local) URL(p string) string {
	return s.prefix + "/" + strings.TrimLeft(p, "/")
}

// resolve maps a relative object path into root and rejects escapes.
func (s *Local) resolve(rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" || strings.Contains(rel, "..") {
		return "", fmt.Errorf("%w: bad object path %q", domain.ErrInvalidArgument, rel)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func extension(name, contentType string) string {
	if ext := strings.ToLower(path.Ext(name)); ext != "" && len(ext) <= 6 {
		return ext
	}
	if contentType != "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			return exts[len(exts)-1]
		}
	}
	return ".bin"
}

// Handler serves stored objects under the public prefix.
func (s *Local) Handler() http.Handler {
	return http.StripPrefix(s.prefix+"/", http.FileServer(http.Dir(s.root)))
}
