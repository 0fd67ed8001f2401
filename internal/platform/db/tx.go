package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const txKey contextKey = "db_tx"

var ErrNoConn = errors.New("no database connection in context")

// TxFromContext returns the transaction started by WithTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the tenant connection in ctx. Stores pick
// it up through TxFromContext.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, ErrNoConn
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, txKey, tx), tx, nil
}
