package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/repository"
	"practice-pipeline/internal/infra/logging"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase keeps a users row for every authenticated subject.
type UserUseCase interface {
	RegisterOrFetch(ctx context.Context, id, email, name string) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
}

type userUC struct {
	users repository.UserRepository
	tm    repository.TransactionManager
	now   func() time.Time
	log   *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, tm repository.TransactionManager, logger *zerolog.Logger) *userUC {
	return &userUC{
		users: users,
		tm:    tm,
		now:   time.Now,
		log:   logger,
	}
}

func (u *userUC) RegisterOrFetch(ctx context.Context, id, email, name string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.RegisterOrFetch")()

	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrInvalidArgument
	}
	var user *model.User
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		user, err = ensureUser(ctx, tx, u.users, id, u.now())
		if err != nil {
			return err
		}
		changed := false
		if email = strings.TrimSpace(email); email != "" && email != user.Email {
			user.Email = email
			changed = true
		}
		if name = strings.TrimSpace(name); name != "" && name != user.Name {
			user.Name = name
			changed = true
		}
		if !changed {
			return nil
		}
		if err := u.users.Save(ctx, tx, user); err != nil {
			u.log.Error().Err(err).Str("user_id", id).Msg("Failed to update user")
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (u *userUC) Get(ctx context.Context, id string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.Get")()
	return u.users.FindByID(ctx, nil, id)
}

// ensureUser returns the stored user or saves a bare row for id.
func ensureUser(ctx context.Context, tx repository.Tx, users repository.UserRepository, id string, now time.Time) (*model.User, error) {
	usr, err := users.FindByID(ctx, tx, id)
	if err == nil {
		return usr, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	nu := &model.User{ID: id, CreatedAt: now.UTC()}
	if err := users.Save(ctx, tx, nu); err != nil {
		return nil, err
	}
	return nu, nil
}
