package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque execution context: nil, pgx.Tx or a pool connection.
type Tx interface{}

type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
