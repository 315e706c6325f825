package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/semidx/semidx/internal/artifact"
)

// PostgresRecords persists index records in the index_records table so the
// indexing state machine survives restarts. Begin serializes concurrent
// ingestions of one logical ID with a row lock; Transition is a plain
// conditional UPDATE keyed by version.
//
// PostgresRecords is safe for concurrent use by multiple goroutines.
type PostgresRecords struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRecords creates a record store on the given pool.
func NewPostgresRecords(pool *pgxpool.Pool, logger *slog.Logger) (*PostgresRecords, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRecords{pool: pool, logger: logger}, nil
}

const recordCols = `logical_id, kind, fingerprint, store_ref, state, version, last_error, updated_at`

// Get returns the record for logicalID, or ErrNotFound.
func (p *PostgresRecords) Get(ctx context.Context, logicalID string) (Record, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+recordCols+` FROM index_records WHERE logical_id = $1`, logicalID)
	return scanRecord(row)
}

// Begin implements RecordStore. The row lock makes the load-check-bump
// sequence atomic against concurrent Begin calls for the same logical ID.
func (p *PostgresRecords) Begin(ctx context.Context, logicalID string, kind artifact.Kind, fp string) (Record, bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Record{}, false, fmt.Errorf("begin ingestion for %q: %w", logicalID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+recordCols+` FROM index_records WHERE logical_id = $1 FOR UPDATE`, logicalID)
	cur, err := scanRecord(row)
	switch {
	case errors.Is(err, ErrNotFound):
		rec := Record{LogicalID: logicalID, Kind: kind, Fingerprint: fp, State: StatePending, Version: 1}
		if _, err := tx.Exec(ctx,
			`INSERT INTO index_records (logical_id, kind, fingerprint, store_ref, state, version, last_error, updated_at)
			 VALUES ($1, $2, $3, '', $4, 1, '', now())`,
			logicalID, string(kind), fp, string(StatePending)); err != nil {
			return Record{}, false, fmt.Errorf("create record for %q: %w", logicalID, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return Record{}, false, fmt.Errorf("commit record for %q: %w", logicalID, err)
		}
		return rec, true, nil

	case err != nil:
		return Record{}, false, err
	}

	if cur.Fingerprint == fp && cur.State != StateFailed {
		if err := tx.Commit(ctx); err != nil {
			return Record{}, false, fmt.Errorf("commit record for %q: %w", logicalID, err)
		}
		return cur, false, nil
	}

	rec := Record{
		LogicalID:   logicalID,
		Kind:        kind,
		Fingerprint: fp,
		StoreRef:    cur.StoreRef,
		State:       StatePending,
		Version:     cur.Version + 1,
	}
	if _, err := tx.Exec(ctx,
		`UPDATE index_records
		 SET kind = $2, fingerprint = $3, state = $4, version = $5, last_error = '', updated_at = now()
		 WHERE logical_id = $1`,
		logicalID, string(kind), fp, string(StatePending), rec.Version); err != nil {
		return Record{}, false, fmt.Errorf("bump record for %q: %w", logicalID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, false, fmt.Errorf("commit record for %q: %w", logicalID, err)
	}
	return rec, true, nil
}

// Transition implements RecordStore.
func (p *PostgresRecords) Transition(ctx context.Context, rec Record) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE index_records
		 SET state = $2, store_ref = $3, last_error = $4, updated_at = now()
		 WHERE logical_id = $1 AND version = $5`,
		rec.LogicalID, string(rec.State), rec.StoreRef, rec.LastError, rec.Version)
	if err != nil {
		return fmt.Errorf("transition record %q to %s: %w", rec.LogicalID, rec.State, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.Get(ctx, rec.LogicalID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStaleWrite
	}
	return nil
}

// Delete removes the record for logicalID.
func (p *PostgresRecords) Delete(ctx context.Context, logicalID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM index_records WHERE logical_id = $1`, logicalID); err != nil {
		return fmt.Errorf("delete record %q: %w", logicalID, err)
	}
	return nil
}

// Count returns the number of records.
func (p *PostgresRecords) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM index_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec   Record
		kind  string
		state string
	)
	err := row.Scan(&rec.LogicalID, &kind, &rec.Fingerprint, &rec.StoreRef, &state, &rec.Version, &rec.LastError, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan index record: %w", err)
	}
	rec.Kind = artifact.Kind(kind)
	rec.State = State(state)
	return rec, nil
}
