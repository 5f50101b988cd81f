package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/repository"
)

var _ repository.ImageRepository = (*ImageRepo)(nil)

type ImageRepo struct {
	pool *pgxpool.Pool
}

func NewImageRepo(pool *pgxpool.Pool) *ImageRepo {
	return &ImageRepo{pool: pool}
}

const imageColumns = `id::text, storage_key, checksum, mode, source, format, bytes, width, height, is_public, created_at`

func scanImage(row interface{ Scan(...interface{}) error }) (*model.Image, error) {
	var (
		img  model.Image
		mode sql.NullString
		src  string
	)
	if err := row.Scan(&img.ID, &img.StorageKey, &img.Checksum, &mode, &src, &img.Format,
		&img.Bytes, &img.Width, &img.Height, &img.IsPublic, &img.CreatedAt); err != nil {
		return nil, err
	}
	img.Mode = model.Mode(mode.String)
	img.Source = model.ImageSource(src)
	return &img, nil
}

// Upsert inserts img unless its checksum is already stored; either way the
// persisted row is returned. The no-op DO UPDATE makes RETURNING yield the
// existing row on conflict.
func (r *ImageRepo) Upsert(ctx context.Context, tx repository.Tx, img *model.Image) (*model.Image, error) {
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO images (id, storage_key, checksum, mode, source, format, bytes, width, height, is_public, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT ON CONSTRAINT images_checksum_key DO UPDATE SET checksum = EXCLUDED.checksum
RETURNING ` + imageColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q,
		img.ID, img.StorageKey, img.Checksum, nullIfEmpty(string(img.Mode)), string(img.Source),
		img.Format, img.Bytes, img.Width, img.Height, img.IsPublic, img.CreatedAt)
	if err != nil {
		return nil, err
	}
	return scanImage(row)
}

func (r *ImageRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Image, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+imageColumns+` FROM images WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	img, err := scanImage(row)
	if err != nil {
		return nil, scanErr(err, domain.ErrNotFound)
	}
	return img, nil
}
