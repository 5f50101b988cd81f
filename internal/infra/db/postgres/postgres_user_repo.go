package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*UserRepo)(nil)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, email, name, is_admin, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
  email = EXCLUDED.email, name = EXCLUDED.name, is_admin = EXCLUDED.is_admin;`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Email, u.Name, u.IsAdmin, u.CreatedAt)
	return err
}

func (r *UserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	const q = `SELECT id::text, email, name, is_admin, created_at FROM users WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, scanErr(err, domain.ErrNotFound)
	}
	return &u, nil
}
