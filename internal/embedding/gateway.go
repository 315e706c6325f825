// Package embedding provides the gateway to the external embedding provider.
//
// The gateway is a thin typed adapter: it classifies provider failures into
// retryable and terminal errors but never retries on its own. Retry policy
// belongs to the task scheduler.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

var (
	// ErrTransient marks provider failures worth retrying: timeouts,
	// rate limits, 5xx-equivalent responses.
	ErrTransient = errors.New("transient embedding provider error")

	// ErrPermanent marks provider failures that retrying cannot fix:
	// malformed or oversized input, unsupported content.
	ErrPermanent = errors.New("permanent embedding provider error")
)

// MaxContentBytes is the largest input the gateway accepts. Content beyond
// the model's token window gets truncated server-side, which silently breaks
// retrieval, so oversized input is rejected up front as permanent.
const MaxContentBytes = 32 * 1024

// Config configures the embedding gateway.
type Config struct {
	// ModelID identifies the embedding model. It participates in content
	// fingerprints, so changing it invalidates caches and index records.
	ModelID string

	// Dimension is the expected output dimensionality. Passed to the
	// provider as a truncation hint when > 0.
	Dimension int32

	// Timeout bounds each provider call. Default 30s.
	Timeout time.Duration

	// RequestsPerSecond throttles provider calls. Zero disables throttling.
	RequestsPerSecond float64

	// Burst is the rate limiter burst size. Default 1 when throttled.
	Burst int
}

// Gateway adapts a genkit ai.Embedder to the pipeline's needs.
//
// Gateway is safe for concurrent use by multiple goroutines.
type Gateway struct {
	embedder ai.Embedder
	cfg      Config
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates a Gateway around the given embedder.
func New(embedder ai.Embedder, cfg Config, logger *slog.Logger) (*Gateway, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("model ID is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Gateway{
		embedder: embedder,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// ModelID returns the active embedding model identifier.
func (g *Gateway) ModelID() string { return g.cfg.ModelID }

// Embed computes the embedding vector for text.
//
// Returned errors wrap ErrTransient or ErrPermanent; callers route on them
// with errors.Is.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := g.validateInput(text); err != nil {
		return nil, err
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait: %v", ErrTransient, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req := &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	}
	if g.cfg.Dimension > 0 {
		dim := g.cfg.Dimension
		req.Options = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}

	start := time.Now()
	resp, err := g.embedder.Embed(callCtx, req)
	if err != nil {
		return nil, g.classify(err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrPermanent)
	}

	vec := resp.Embeddings[0].Embedding
	g.logger.Debug("embedded text",
		"model", g.cfg.ModelID,
		"input_bytes", len(text),
		"dimension", len(vec),
		"elapsed", time.Since(start))
	return vec, nil
}

// BatchItem is the per-input result of EmbedBatch.
type BatchItem struct {
	Vector []float32
	Err    error
}

// EmbedBatch embeds each text independently so a single bad item cannot
// poison the rest of the batch. Results are positional: item i corresponds
// to texts[i].
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) []BatchItem {
	items := make([]BatchItem, len(texts))
	for i, text := range texts {
		vec, err := g.Embed(ctx, text)
		items[i] = BatchItem{Vector: vec, Err: err}
	}
	return items
}

// validateInput rejects input the provider is guaranteed to refuse.
func (g *Gateway) validateInput(text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty input", ErrPermanent)
	}
	if len(text) > MaxContentBytes {
		return fmt.Errorf("%w: input %d bytes exceeds limit %d", ErrPermanent, len(text), MaxContentBytes)
	}
	return nil
}

// classify maps a raw provider error to the gateway taxonomy.
func (g *Gateway) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: embedding call timed out: %v", ErrTransient, err)
	}
	if errors.Is(err, context.Canceled) {
		// Keep the sentinel visible so callers can tell cancellation
		// apart from provider failures.
		return fmt.Errorf("embedding call cancelled: %w", err)
	}
	if transientMessage(err.Error()) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// transientMessage reports whether the provider error text looks retryable.
// Genkit surfaces provider HTTP status as message text, so substring
// matching is the only classification available.
func transientMessage(msg string) bool {
	return containsAny(msg,
		"rate limit", "quota exceeded", "resource exhausted", "429",
		"500", "502", "503", "504", "unavailable", "overloaded",
		"connection reset", "timeout", "temporary",
	)
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
