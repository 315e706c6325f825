package vecstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is a brute-force in-memory Store. It backs tests and small
// single-process deployments where running Postgres is overkill.
//
// Memory is safe for concurrent use by multiple goroutines.
type Memory struct {
	mu          sync.RWMutex
	dimension   int
	collections map[string]map[string]memEntry
}

type memEntry struct {
	vector  []float32
	payload Payload
}

// NewMemory creates an empty in-memory store. The first upserted vector
// fixes the dimensionality; later mismatches are rejected the way a real
// store would reject them.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]memEntry)}
}

// Upsert stores or replaces the vector and payload for id.
func (m *Memory) Upsert(ctx context.Context, collection, id string, vector []float32, payload Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classify("upsert", err)
	}
	if collection == "" || id == "" {
		return "", fmt.Errorf("%w: collection and id must not be empty", ErrRejected)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dimension == 0 {
		m.dimension = len(vector)
	} else if len(vector) != m.dimension {
		return "", fmt.Errorf("%w: expected %d dimensions, not %d", ErrRejected, m.dimension, len(vector))
	}

	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]memEntry)
		m.collections[collection] = coll
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	pl := make(Payload, len(payload))
	for k, v := range payload {
		pl[k] = v
	}
	coll[id] = memEntry{vector: vec, payload: pl}

	return collection + "/" + id, nil
}

// Search returns the topK entries by cosine similarity, filtered by exact
// payload matches.
func (m *Memory) Search(ctx context.Context, collection string, vector []float32, topK int, filter Payload) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("search", err)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrRejected, topK)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimension != 0 && len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: expected %d dimensions, not %d", ErrRejected, m.dimension, len(vector))
	}

	var hits []Hit
	for id, e := range m.collections[collection] {
		if !matches(e.payload, filter) {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: cosine(vector, e.vector), Payload: e.payload})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Delete removes the entry for id. Deleting a missing id is not an error.
func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return classify("delete", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

// Len returns the number of entries in collection.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

func matches(payload, filter Payload) bool {
	for k, want := range filter {
		if payload[k] != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
