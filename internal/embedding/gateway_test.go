package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/semidx/semidx/internal/log"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	delay      time.Duration
	embedErr   error
	embeddings []float32
	returnNil  bool
	callCount  int
	lastInput  string
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(r api.Registry) {}

func (m *mockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.lastInput = req.Input[0].Content[0].Text
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.returnNil {
		return &ai.EmbedResponse{}, nil
	}

	vec := m.embeddings
	if vec == nil {
		vec = []float32{0.1, 0.2, 0.3}
	}
	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: vec}},
	}, nil
}

func newTestGateway(t *testing.T, m *mockEmbedder) *Gateway {
	t.Helper()
	g, err := New(m, Config{ModelID: "mock-model"}, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestGateway_Embed(t *testing.T) {
	m := &mockEmbedder{embeddings: []float32{1, 2, 3}}
	g := newTestGateway(t, m)

	vec, err := g.Embed(context.Background(), "use event sourcing")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3-dim vector, got %d", len(vec))
	}
	if m.lastInput != "use event sourcing" {
		t.Errorf("provider saw %q", m.lastInput)
	}
}

func TestGateway_Embed_EmptyInput(t *testing.T) {
	m := &mockEmbedder{}
	g := newTestGateway(t, m)

	_, err := g.Embed(context.Background(), "")
	if !errors.Is(err, ErrPermanent) {
		t.Errorf("expected ErrPermanent, got %v", err)
	}
	if m.callCount != 0 {
		t.Errorf("provider called %d times for invalid input", m.callCount)
	}
}

func TestGateway_Embed_OversizedInput(t *testing.T) {
	m := &mockEmbedder{}
	g := newTestGateway(t, m)

	_, err := g.Embed(context.Background(), strings.Repeat("a", MaxContentBytes+1))
	if !errors.Is(err, ErrPermanent) {
		t.Errorf("expected ErrPermanent, got %v", err)
	}
	if m.callCount != 0 {
		t.Errorf("provider called %d times for oversized input", m.callCount)
	}
}

func TestGateway_Embed_EmptyResponse(t *testing.T) {
	m := &mockEmbedder{returnNil: true}
	g := newTestGateway(t, m)

	_, err := g.Embed(context.Background(), "text")
	if !errors.Is(err, ErrPermanent) {
		t.Errorf("expected ErrPermanent for empty response, got %v", err)
	}
}

func TestGateway_Embed_Timeout(t *testing.T) {
	m := &mockEmbedder{delay: 200 * time.Millisecond}
	g, err := New(m, Config{ModelID: "mock-model", Timeout: 20 * time.Millisecond}, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = g.Embed(context.Background(), "slow")
	if !errors.Is(err, ErrTransient) {
		t.Errorf("expected ErrTransient on timeout, got %v", err)
	}
}

func TestGateway_Classify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "rate limit", err: errors.New("googleai: rate limit exceeded"), want: ErrTransient},
		{name: "quota", err: errors.New("quota exceeded for project"), want: ErrTransient},
		{name: "http 429", err: errors.New("unexpected status 429"), want: ErrTransient},
		{name: "http 503", err: errors.New("503 service unavailable"), want: ErrTransient},
		{name: "connection reset", err: errors.New("read: connection reset by peer"), want: ErrTransient},
		{name: "malformed input", err: errors.New("invalid argument: unsupported content"), want: ErrPermanent},
		{name: "unknown", err: errors.New("something odd happened"), want: ErrPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockEmbedder{embedErr: tt.err}
			g := newTestGateway(t, m)

			_, err := g.Embed(context.Background(), "text")
			if !errors.Is(err, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, err, tt.want)
			}
		})
	}
}

func TestGateway_EmbedBatch_PartialFailure(t *testing.T) {
	m := &mockEmbedder{}
	g := newTestGateway(t, m)

	oversized := strings.Repeat("x", MaxContentBytes+1)
	items := g.EmbedBatch(context.Background(), []string{"good one", oversized, "good two"})

	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Err != nil || items[2].Err != nil {
		t.Errorf("good items failed: %v, %v", items[0].Err, items[2].Err)
	}
	if !errors.Is(items[1].Err, ErrPermanent) {
		t.Errorf("expected bad item to fail with ErrPermanent, got %v", items[1].Err)
	}
	if items[0].Vector == nil || items[2].Vector == nil {
		t.Error("good items missing vectors")
	}
}

func TestGateway_New_Validation(t *testing.T) {
	if _, err := New(nil, Config{ModelID: "m"}, nil); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := New(&mockEmbedder{}, Config{}, nil); err == nil {
		t.Error("expected error for missing model ID")
	}
}
