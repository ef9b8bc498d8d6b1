package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type poolRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner returns a TxRunner that opens one read-committed pgx transaction per unit of work.
func NewTxRunner(pool *pgxpool.Pool) TxRunner {
	return &poolRunner{pool: pool}
}

func (r *poolRunner) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}
