package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/repository"
)

var _ repository.ImageRepository = (*ImageRepo)(nil)

type ImageRepo struct {
	mu         sync.Mutex
	byID       map[string]*model.Image
	byChecksum map[string]string
}

func NewImageRepo() *ImageRepo {
	return &ImageRepo{byID: map[string]*model.Image{}, byChecksum: map[string]string{}}
}

func (r *ImageRepo) Upsert(_ context.Context, _ repository.Tx, img *model.Image) (*model.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byChecksum[img.Checksum]; ok {
		c := *r.byID[id]
		return &c, nil
	}
	c := *img
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.byID[c.ID] = &c
	r.byChecksum[c.Checksum] = c.ID
	out := c
	return &out, nil
}

func (r *ImageRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *img
	return &c, nil
}
