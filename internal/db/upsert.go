package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a bulk merge into one table.
type UpsertConfig struct {
	Table        string   // target table (e.g., "extraction_fields")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns rewritten on conflict; nil = every non-key column
}

// tempName returns the session-local staging table for the target.
func (cfg UpsertConfig) tempName() string {
	return "_tmp_upsert_" + strings.ReplaceAll(cfg.Table, ".", "_")
}

// updateCols resolves the ON CONFLICT SET list, defaulting to every column
// outside the conflict key.
func (cfg UpsertConfig) updateCols() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	keys := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		keys[k] = true
	}
	cols := make([]string, 0, len(cfg.Columns))
	for _, c := range cfg.Columns {
		if !keys[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// mergeSQL renders the INSERT ... ON CONFLICT statement that moves staged
// rows into the target table.
func (cfg UpsertConfig) mergeSQL() string {
	var set strings.Builder
	for i, col := range cfg.updateCols() {
		if i > 0 {
			set.WriteString(", ")
		}
		ident := pgx.Identifier{col}.Sanitize()
		set.WriteString(ident)
		set.WriteString(" = EXCLUDED.")
		set.WriteString(ident)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{cfg.Table}.Sanitize(),
		identList(cfg.Columns),
		identList(cfg.Columns),
		pgx.Identifier{cfg.tempName()}.Sanitize(),
		identList(cfg.ConflictKeys),
		set.String(),
	)
}

// BulkUpsert merges rows into cfg.Table through a staging table: rows are
// COPYed into a temp table shaped like the target, then folded in with
// INSERT ... ON CONFLICT DO UPDATE. One transaction, and the temp table
// drops itself on commit. Large catalog imports stay a two-statement
// round-trip regardless of row count.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staging := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{cfg.tempName()}.Sanitize(),
		pgx.Identifier{cfg.Table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, staging); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{cfg.tempName()}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, cfg.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// identList quotes column names and joins them for SQL interpolation.
func identList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
