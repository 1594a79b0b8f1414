// Package db provides shared PostgreSQL helpers: the Pool interface the
// store is written against, COPY-based bulk loading, and staged bulk
// upserts.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom streams rows into table with the COPY protocol. Message backfill
// imports run through here; per-row INSERTs are too slow at that volume.
// Zero rows is a no-op, not an error.
func CopyFrom(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}
