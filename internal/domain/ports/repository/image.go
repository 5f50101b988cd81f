package repository

import (
	"context"

	"practice-pipeline/internal/domain/model"
)

type ImageRepository interface {
	// Upsert inserts img or, when the checksum exists, returns the stored row.
	Upsert(ctx context.Context, tx Tx, img *model.Image) (*model.Image, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.Image, error)
}
