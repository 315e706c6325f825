// Package artifact defines the knowledge artifact model shared by the
// ingestion pipeline and the query engine.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind categorizes a knowledge artifact.
type Kind string

// Artifact kinds stored in the index. The kind is carried into the vector
// store payload so queries can filter on it.
const (
	KindArchitectureDecision Kind = "architecture_decision"
	KindPattern              Kind = "pattern"
	KindCodeSnippet          Kind = "code_snippet"
	KindDebugNote            Kind = "debug_note"
	KindDocument             Kind = "document"
)

// Valid reports whether k is a known artifact kind.
func (k Kind) Valid() bool {
	switch k {
	case KindArchitectureDecision, KindPattern, KindCodeSnippet, KindDebugNote, KindDocument:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// ParseKind converts a string into a Kind, accepting the canonical
// snake_case form.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown artifact kind %q", s)
	}
	return k, nil
}

// Artifact is an immutable knowledge artifact submitted for indexing.
// The LogicalID is caller-supplied and stable across content edits; the
// content itself is versioned by the index, not by the artifact.
type Artifact struct {
	LogicalID string
	Kind      Kind
	Content   string
	Tags      map[string]string
	CreatedAt time.Time
}

// Validate checks the artifact is indexable.
func (a Artifact) Validate() error {
	if a.LogicalID == "" {
		return fmt.Errorf("artifact logical ID must not be empty")
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
	if a.Content == "" {
		return fmt.Errorf("artifact %q has empty content", a.LogicalID)
	}
	return nil
}

// Fingerprint computes the content-addressed digest for content embedded
// with the given model. Identical fingerprints are guaranteed to produce
// identical embeddings, so they share one cache entry and one vector store
// entry. The model identifier participates in the digest so a model change
// invalidates everything.
func Fingerprint(content, modelID string) string {
	h := sha256.New()
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// SnippetLen is the maximum snippet length stored in vector store payloads
// and returned with search results.
const SnippetLen = 200

// Snippet returns a bounded, rune-safe excerpt of content for display in
// search results.
func Snippet(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= SnippetLen {
		return content
	}
	runes := []rune(content)
	return string(runes[:SnippetLen]) + "…"
}
