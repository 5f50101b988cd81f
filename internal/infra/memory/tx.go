package memory

import (
	"context"

	"github.com/jackc/pgx/v4"

	"practice-pipeline/internal/domain/ports/repository"
)

var _ repository.TransactionManager = TxManager{}

// TxManager runs fn directly; the memory repositories lock per call.
type TxManager struct{}

func (TxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}
