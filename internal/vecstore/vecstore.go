// Package vecstore provides the typed adapter over the external vector
// database. The core talks to the Store interface; the production
// implementation is Postgres with pgvector.
package vecstore

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable marks store failures worth retrying: the database is
	// unreachable, timed out, or shedding load.
	ErrUnavailable = errors.New("vector store unavailable")

	// ErrRejected marks requests the store will never accept, e.g. a
	// vector dimension mismatch. It signals a configuration bug upstream
	// and must not be retried.
	ErrRejected = errors.New("vector store rejected request")
)

// Payload is the metadata stored alongside a vector. Values must be
// JSON-serializable strings; queries filter on exact key/value matches.
type Payload map[string]string

// Well-known payload keys written by the ingestion pipeline.
const (
	PayloadLogicalID = "logical_id"
	PayloadKind      = "kind"
	PayloadSnippet   = "snippet"
)

// Hit is one ranked search result. Score is cosine similarity normalized to
// higher-is-closer.
type Hit struct {
	ID      string
	Score   float32
	Payload Payload
}

// Store is the adapter contract consumed by the ingestion pipeline and the
// query engine.
//
// Upsert is idempotent by id: re-upserting the same id atomically replaces
// the prior vector and payload. Search returns up to topK hits ordered by
// descending score, optionally restricted to entries whose payload contains
// every filter pair.
type Store interface {
	Upsert(ctx context.Context, collection, id string, vector []float32, payload Payload) (ref string, err error)
	Search(ctx context.Context, collection string, vector []float32, topK int, filter Payload) ([]Hit, error)
	Delete(ctx context.Context, collection, id string) error
}
