package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/semidx/semidx/internal/artifact"
	"github.com/semidx/semidx/internal/vecstore"
)

// Embedder produces embedding vectors. Satisfied by *embedding.Gateway.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

// Cache holds embedding vectors keyed by content fingerprint.
// Satisfied by *cache.Cache.
type Cache interface {
	GetOrCompute(ctx context.Context, fp string, compute func(context.Context) ([]float32, error)) ([]float32, error)
	Pin(fp string)
	Unpin(fp string)
}

// Pipeline drives one artifact through the indexing state machine:
// pending, embedding, upserting, indexed. Every state change goes through
// the record store's version check, so a pipeline run that was overtaken
// by a newer ingestion of the same logical ID stops at the first stale
// transition instead of clobbering the newer result.
type Pipeline struct {
	records    RecordStore
	cache      Cache
	embedder   Embedder
	store      vecstore.Store
	collection string
	logger     *slog.Logger
}

// NewPipeline wires a pipeline. All dependencies are required except the
// logger, which falls back to slog.Default.
func NewPipeline(records RecordStore, c Cache, embedder Embedder, store vecstore.Store, collection string, logger *slog.Logger) (*Pipeline, error) {
	switch {
	case records == nil:
		return nil, fmt.Errorf("record store is required")
	case c == nil:
		return nil, fmt.Errorf("cache is required")
	case embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	case store == nil:
		return nil, fmt.Errorf("vector store is required")
	case collection == "":
		return nil, fmt.Errorf("collection is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		records:    records,
		cache:      c,
		embedder:   embedder,
		store:      store,
		collection: collection,
		logger:     logger,
	}, nil
}

// Ingest indexes one artifact. If the stored record already carries the
// same content fingerprint in a non-failed state the call is a no-op and
// returns the current record. Returning ErrStaleWrite means a newer
// ingestion of the same logical ID won the race; callers should treat it
// as success for that logical ID.
func (p *Pipeline) Ingest(ctx context.Context, art artifact.Artifact) (Record, error) {
	if err := art.Validate(); err != nil {
		return Record{}, err
	}
	fp := artifact.Fingerprint(art.Content, p.embedder.ModelID())

	rec, started, err := p.records.Begin(ctx, art.LogicalID, art.Kind, fp)
	if err != nil {
		return Record{}, err
	}
	if !started {
		p.logger.Debug("content unchanged, skipping ingestion",
			slog.String("logical_id", art.LogicalID),
			slog.Int64("version", rec.Version))
		return rec, nil
	}

	rec.State = StateEmbedding
	if err := p.records.Transition(ctx, rec); err != nil {
		return p.abandon(ctx, rec, err)
	}

	p.cache.Pin(fp)
	defer p.cache.Unpin(fp)

	vec, err := p.cache.GetOrCompute(ctx, fp, func(ctx context.Context) ([]float32, error) {
		return p.embedder.Embed(ctx, art.Content)
	})
	if err != nil {
		return p.fail(ctx, rec, fmt.Errorf("embed %q: %w", art.LogicalID, err))
	}
	if err := ctx.Err(); err != nil {
		return p.fail(ctx, rec, err)
	}

	rec.State = StateUpserting
	if err := p.records.Transition(ctx, rec); err != nil {
		return p.abandon(ctx, rec, err)
	}

	ref, err := p.store.Upsert(ctx, p.collection, art.LogicalID, vec, p.payload(art))
	if err != nil {
		return p.fail(ctx, rec, fmt.Errorf("upsert %q: %w", art.LogicalID, err))
	}

	rec.State = StateIndexed
	rec.StoreRef = ref
	rec.LastError = ""
	if err := p.records.Transition(ctx, rec); err != nil {
		return p.abandon(ctx, rec, err)
	}

	p.logger.Info("artifact indexed",
		slog.String("logical_id", art.LogicalID),
		slog.String("kind", string(art.Kind)),
		slog.Int64("version", rec.Version))
	return rec, nil
}

// payload builds the stored metadata. User tags go in first so the
// reserved keys always win on collision.
func (p *Pipeline) payload(art artifact.Artifact) vecstore.Payload {
	payload := make(vecstore.Payload, len(art.Tags)+3)
	for k, v := range art.Tags {
		payload[k] = v
	}
	payload[vecstore.PayloadLogicalID] = art.LogicalID
	payload[vecstore.PayloadKind] = string(art.Kind)
	payload[vecstore.PayloadSnippet] = artifact.Snippet(art.Content)
	return payload
}

// fail records the failure on the record and returns the original error.
// A stale transition here means a newer ingestion already owns the record,
// so the failure of this run no longer matters.
func (p *Pipeline) fail(ctx context.Context, rec Record, cause error) (Record, error) {
	rec.State = StateFailed
	rec.LastError = cause.Error()
	switch err := p.records.Transition(ctx, rec); {
	case errors.Is(err, ErrStaleWrite):
		return rec, ErrStaleWrite
	case err != nil:
		p.logger.Error("recording failure state",
			slog.String("logical_id", rec.LogicalID),
			slog.String("error", err.Error()))
	}
	p.logger.Warn("ingestion failed",
		slog.String("logical_id", rec.LogicalID),
		slog.Int64("version", rec.Version),
		slog.String("error", cause.Error()))
	return rec, cause
}

// abandon handles a transition error mid-pipeline.
func (p *Pipeline) abandon(ctx context.Context, rec Record, err error) (Record, error) {
	if errors.Is(err, ErrStaleWrite) {
		p.logger.Debug("ingestion superseded by newer version",
			slog.String("logical_id", rec.LogicalID),
			slog.Int64("version", rec.Version))
		return rec, ErrStaleWrite
	}
	return p.fail(ctx, rec, err)
}
