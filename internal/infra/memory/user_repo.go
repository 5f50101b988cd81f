package memory

import (
	"context"
	"sync"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*UserRepo)(nil)

type UserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func NewUserRepo() *UserRepo { return &UserRepo{users: map[string]*model.User{}} }

func (r *UserRepo) Save(_ context.Context, _ repository.Tx, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *u
	r.users[u.ID] = &c
	return nil
}

func (r *UserRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *u
	return &c, nil
}
