package testutil

import (
	"context"
	"sync/atomic"
)

// StaticEmbedder returns a fixed vector for every text and counts calls.
// It satisfies the Embedder interfaces of the index, query and knowledge
// packages.
type StaticEmbedder struct {
	Vector []float32
	Model  string
	calls  atomic.Int64
}

// NewStaticEmbedder creates an embedder returning vector for every input.
func NewStaticEmbedder(vector []float32) *StaticEmbedder {
	return &StaticEmbedder{Vector: vector, Model: "static-test-model"}
}

func (s *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	out := make([]float32, len(s.Vector))
	copy(out, s.Vector)
	return out, nil
}

func (s *StaticEmbedder) ModelID() string {
	if s.Model == "" {
		return "static-test-model"
	}
	return s.Model
}

// Calls reports how many times Embed ran.
func (s *StaticEmbedder) Calls() int64 { return s.calls.Load() }
