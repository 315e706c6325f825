package vecstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store on PostgreSQL with the pgvector extension.
// Collections share one table keyed by (collection, id); similarity is
// cosine, exposed as 1 - distance so higher is closer.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool    querier
	timeout time.Duration
	logger  *slog.Logger
}

// NewPostgres creates a Postgres store on the given pool.
// timeout bounds each store call; zero means 10s.
func NewPostgres(pool *pgxpool.Pool, timeout time.Duration, logger *slog.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, timeout: timeout, logger: logger}, nil
}

const upsertSQL = `INSERT INTO vectors (collection, id, embedding, payload, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (collection, id)
	DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload, updated_at = now()`

// Upsert stores or atomically replaces the vector and payload for id.
func (p *Postgres) Upsert(ctx context.Context, collection, id string, vector []float32, payload Payload) (string, error) {
	if collection == "" || id == "" {
		return "", fmt.Errorf("%w: collection and id must not be empty", ErrRejected)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %v", ErrRejected, err)
	}

	vec := pgvector.NewVector(vector)
	if _, err := p.pool.Exec(callCtx, upsertSQL, collection, id, vec, payloadJSON); err != nil {
		return "", classify("upsert", err)
	}

	p.logger.Debug("upserted vector", "collection", collection, "id", id, "dimension", len(vector))
	return collection + "/" + id, nil
}

const searchSQL = `SELECT id, payload, 1 - (embedding <=> $2) AS similarity
	FROM vectors
	WHERE collection = $1 AND payload @> $3
	ORDER BY embedding <=> $2
	LIMIT $4`

// Search returns the topK nearest entries in collection, optionally
// restricted to payloads containing every filter pair.
func (p *Postgres) Search(ctx context.Context, collection string, vector []float32, topK int, filter Payload) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrRejected, topK)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if filter == nil {
		filter = Payload{}
	}
	// The filter is always marshalled here, never interpolated: the JSONB
	// containment operator with a bind parameter is injection-safe.
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal filter: %v", ErrRejected, err)
	}

	rows, err := p.pool.Query(callCtx, searchSQL, collection, pgvector.NewVector(vector), filterJSON, topK)
	if err != nil {
		return nil, classify("search", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			hit         Hit
			payloadJSON []byte
		)
		if err := rows.Scan(&hit.ID, &payloadJSON, &hit.Score); err != nil {
			return nil, classify("search scan", err)
		}
		if err := json.Unmarshal(payloadJSON, &hit.Payload); err != nil {
			p.logger.Warn("failed to parse payload", "collection", collection, "id", hit.ID, "error", err)
			hit.Payload = Payload{}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("search rows", err)
	}
	return hits, nil
}

// Delete removes the entry for id. Deleting a missing id is not an error.
func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.pool.Exec(callCtx, `DELETE FROM vectors WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return classify("delete", err)
	}
	p.logger.Debug("deleted vector", "collection", collection, "id", id)
	return nil
}

// classify maps a raw pgx error to the adapter taxonomy. Unknown failures
// default to ErrUnavailable so the scheduler retries rather than giving up
// on what might be a blip.
func classify(op string, err error) error {
	// Cancellation is not a store outage: keep the sentinel visible so
	// callers can tell an aborted call apart from a provider failure.
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s cancelled: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out: %v", ErrUnavailable, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch class := pgErr.Code[:2]; class {
		// Connection exceptions, resource exhaustion, admin shutdown.
		case "08", "53", "57":
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
		// Data exceptions (pgvector dimension mismatch lands here),
		// integrity violations, malformed statements.
		case "22", "23", "42":
			return fmt.Errorf("%w: %s: %v", ErrRejected, op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}

	if strings.Contains(err.Error(), "dimensions") {
		return fmt.Errorf("%w: %s: %v", ErrRejected, op, err)
	}

	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
