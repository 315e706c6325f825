// Package query serves semantic search over the indexed artifacts.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

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
}

// Result is one search hit.
type Result struct {
	LogicalID string
	Score     float32
	Snippet   string
	Kind      artifact.Kind
	Tags      map[string]string
}

// Config tunes the engine.
type Config struct {
	// MinScore drops hits below this similarity. Zero keeps everything.
	MinScore float32

	// DefaultTopK applies when Search is called with topK <= 0.
	DefaultTopK int

	// MaxTopK caps the per-query result size.
	MaxTopK int
}

func (c *Config) withDefaults() {
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 5
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = 100
	}
}

// Engine answers similarity queries. Query embeddings share the ingestion
// cache, so repeating a query (or querying for text that was ingested)
// costs no provider call.
type Engine struct {
	cache      Cache
	embedder   Embedder
	store      vecstore.Store
	collection string
	cfg        Config
	logger     *slog.Logger
}

// NewEngine wires a query engine.
func NewEngine(c Cache, embedder Embedder, store vecstore.Store, collection string, cfg Config, logger *slog.Logger) (*Engine, error) {
	switch {
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
	cfg.withDefaults()
	return &Engine{
		cache:      c,
		embedder:   embedder,
		store:      store,
		collection: collection,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Search embeds text and returns up to topK results ordered by score
// descending, logical ID ascending on ties. Hits below MinScore are
// dropped and duplicate logical IDs keep only their best score. An empty
// result is not an error.
func (e *Engine) Search(ctx context.Context, text string, topK int, filter map[string]string) ([]Result, error) {
	if text == "" {
		return nil, fmt.Errorf("query text must not be empty")
	}
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}
	topK = min(topK, e.cfg.MaxTopK)

	fp := artifact.Fingerprint(text, e.embedder.ModelID())
	vec, err := e.cache.GetOrCompute(ctx, fp, func(ctx context.Context) ([]float32, error) {
		return e.embedder.Embed(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Overfetch so threshold and dedup still leave topK survivors when
	// several stored entries map to one logical ID.
	fetch := min(topK*4, e.cfg.MaxTopK*4)
	hits, err := e.store.Search(ctx, e.collection, vec, fetch, vecstore.Payload(filter))
	if err != nil {
		return nil, fmt.Errorf("search store: %w", err)
	}

	results := e.rank(hits, topK)
	e.logger.Debug("search served",
		slog.Int("hits", len(hits)),
		slog.Int("results", len(results)))
	return results, nil
}

func (e *Engine) rank(hits []vecstore.Hit, topK int) []Result {
	best := make(map[string]Result, len(hits))
	for _, h := range hits {
		if h.Score < e.cfg.MinScore {
			continue
		}
		logicalID := h.Payload[vecstore.PayloadLogicalID]
		if logicalID == "" {
			logicalID = h.ID
		}
		if cur, ok := best[logicalID]; ok && cur.Score >= h.Score {
			continue
		}
		best[logicalID] = Result{
			LogicalID: logicalID,
			Score:     h.Score,
			Snippet:   h.Payload[vecstore.PayloadSnippet],
			Kind:      artifact.Kind(h.Payload[vecstore.PayloadKind]),
			Tags:      userTags(h.Payload),
		}
	}

	results := make([]Result, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].LogicalID < results[j].LogicalID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// userTags strips the reserved payload keys, leaving the caller's tags.
func userTags(payload vecstore.Payload) map[string]string {
	tags := make(map[string]string)
	for k, v := range payload {
		switch k {
		case vecstore.PayloadLogicalID, vecstore.PayloadKind, vecstore.PayloadSnippet:
		default:
			tags[k] = v
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
