package query

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/semidx/semidx/internal/artifact"
	"github.com/semidx/semidx/internal/cache"
	"github.com/semidx/semidx/internal/embedding"
	"github.com/semidx/semidx/internal/log"
	"github.com/semidx/semidx/internal/vecstore"
)

type stubEmbedder struct {
	calls atomic.Int64
	err   error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) ModelID() string { return "test-model" }

// stubStore returns canned hits.
type stubStore struct {
	hits []vecstore.Hit
	err  error
}

func (s *stubStore) Upsert(ctx context.Context, collection, id string, vector []float32, payload vecstore.Payload) (string, error) {
	return collection + "/" + id, nil
}

func (s *stubStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter vecstore.Payload) ([]vecstore.Hit, error) {
	if s.err != nil {
		return nil, s.err
	}
	if topK < len(s.hits) {
		return s.hits[:topK], nil
	}
	return s.hits, nil
}

func (s *stubStore) Delete(ctx context.Context, collection, id string) error { return nil }

func hit(id string, score float32, logicalID string) vecstore.Hit {
	return vecstore.Hit{
		ID:    id,
		Score: score,
		Payload: vecstore.Payload{
			vecstore.PayloadLogicalID: logicalID,
			vecstore.PayloadKind:      "pattern",
			vecstore.PayloadSnippet:   "snippet of " + logicalID,
		},
	}
}

func newTestEngine(t *testing.T, emb Embedder, store vecstore.Store, cfg Config) *Engine {
	t.Helper()
	c := cache.New(cache.Config{}, log.NewNop())
	e, err := NewEngine(c, emb, store, "vectors", cfg, log.NewNop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestEngineSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("orders by score then logical ID", func(t *testing.T) {
		store := &stubStore{hits: []vecstore.Hit{
			hit("b", 0.75, "b"),
			hit("c", 0.9, "c"),
			hit("a", 0.75, "a"),
		}}
		e := newTestEngine(t, &stubEmbedder{}, store, Config{})

		results, err := e.Search(ctx, "event sourcing", 5, nil)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		got := make([]string, len(results))
		for i, r := range results {
			got[i] = r.LogicalID
		}
		want := []string{"c", "a", "b"} // equal scores tie-break ascending
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("order = %v, want %v", got, want)
			}
		}
	})

	t.Run("drops hits below the threshold", func(t *testing.T) {
		store := &stubStore{hits: []vecstore.Hit{
			hit("a", 0.9, "a"),
			hit("b", 0.3, "b"),
		}}
		e := newTestEngine(t, &stubEmbedder{}, store, Config{MinScore: 0.5})

		results, err := e.Search(ctx, "event sourcing", 5, nil)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 1 || results[0].LogicalID != "a" {
			t.Errorf("results = %+v, want only a", results)
		}
	})

	t.Run("empty result is not an error", func(t *testing.T) {
		store := &stubStore{hits: []vecstore.Hit{hit("a", 0.1, "a")}}
		e := newTestEngine(t, &stubEmbedder{}, store, Config{MinScore: 0.5})

		results, err := e.Search(ctx, "nothing matches this", 5, nil)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 0 {
			t.Errorf("got %d results, want 0", len(results))
		}
	})

	t.Run("dedups by logical ID keeping the best score", func(t *testing.T) {
		store := &stubStore{hits: []vecstore.Hit{
			hit("chunk-1", 0.6, "doc-1"),
			hit("chunk-2", 0.8, "doc-1"),
			hit("chunk-3", 0.7, "doc-2"),
		}}
		e := newTestEngine(t, &stubEmbedder{}, store, Config{})

		results, err := e.Search(ctx, "event sourcing", 5, nil)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
		if results[0].LogicalID != "doc-1" || results[0].Score != 0.8 {
			t.Errorf("best = %+v, want doc-1 at 0.8", results[0])
		}
	})

	t.Run("truncates to topK after dedup", func(t *testing.T) {
		store := &stubStore{hits: []vecstore.Hit{
			hit("a", 0.9, "a"),
			hit("b", 0.8, "b"),
			hit("c", 0.7, "c"),
		}}
		e := newTestEngine(t, &stubEmbedder{}, store, Config{})

		results, err := e.Search(ctx, "event sourcing", 2, nil)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
	})

	t.Run("repeated query reuses the cached embedding", func(t *testing.T) {
		emb := &stubEmbedder{}
		e := newTestEngine(t, emb, &stubStore{}, Config{})

		for range 3 {
			if _, err := e.Search(ctx, "event sourcing", 5, nil); err != nil {
				t.Fatalf("Search() error = %v", err)
			}
		}
		if got := emb.calls.Load(); got != 1 {
			t.Errorf("embedder called %d times, want 1", got)
		}
	})

	t.Run("propagates embedding errors", func(t *testing.T) {
		emb := &stubEmbedder{err: fmt.Errorf("%w: rate limit", embedding.ErrTransient)}
		e := newTestEngine(t, emb, &stubStore{}, Config{})

		_, err := e.Search(ctx, "event sourcing", 5, nil)
		if !errors.Is(err, embedding.ErrTransient) {
			t.Errorf("Search() error = %v, want ErrTransient", err)
		}
	})

	t.Run("propagates store errors", func(t *testing.T) {
		store := &stubStore{err: fmt.Errorf("%w: connection refused", vecstore.ErrUnavailable)}
		e := newTestEngine(t, &stubEmbedder{}, store, Config{})

		_, err := e.Search(ctx, "event sourcing", 5, nil)
		if !errors.Is(err, vecstore.ErrUnavailable) {
			t.Errorf("Search() error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("rejects empty query text", func(t *testing.T) {
		e := newTestEngine(t, &stubEmbedder{}, &stubStore{}, Config{})
		if _, err := e.Search(ctx, "", 5, nil); err == nil {
			t.Error("Search() error = nil, want error for empty text")
		}
	})

	t.Run("strips reserved payload keys from tags", func(t *testing.T) {
		h := hit("a", 0.9, "a")
		h.Payload["team"] = "platform"
		e := newTestEngine(t, &stubEmbedder{}, &stubStore{hits: []vecstore.Hit{h}}, Config{})

		results, err := e.Search(ctx, "event sourcing", 5, nil)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if results[0].Tags["team"] != "platform" {
			t.Errorf("Tags = %v, want team=platform", results[0].Tags)
		}
		if _, ok := results[0].Tags["logical_id"]; ok {
			t.Error("reserved key leaked into Tags")
		}
		if results[0].Kind != artifact.KindPattern {
			t.Errorf("Kind = %s, want %s", results[0].Kind, artifact.KindPattern)
		}
	})
}

func TestEngineFingerprintMatchesIngestion(t *testing.T) {
	// Query-side fingerprints must equal ingestion-side fingerprints so
	// cache entries are shared between the two paths.
	emb := &stubEmbedder{}
	got := artifact.Fingerprint("Use event sourcing for audit trail", emb.ModelID())
	want := artifact.Fingerprint("Use event sourcing for audit trail", "test-model")
	if got != want {
		t.Fatalf("fingerprint mismatch: %s != %s", got, want)
	}
}
