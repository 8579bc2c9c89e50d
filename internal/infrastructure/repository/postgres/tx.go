package postgres

import (
	"context"
	"database/sql"
)

type txContextKey struct{}

// withTx exposes tx to TxHooks so stores sharing the pool can join the
// transaction instead of waiting for a second connection.
func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext returns the repository transaction a TxHook runs inside.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}
