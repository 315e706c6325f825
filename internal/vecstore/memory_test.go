package vecstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_UpsertSearch(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ref, err := m.Upsert(ctx, "artifacts", "adr-1", []float32{1, 0, 0}, Payload{PayloadLogicalID: "adr-1", PayloadKind: "architecture_decision"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if ref != "artifacts/adr-1" {
		t.Errorf("ref = %q", ref)
	}
	if _, err := m.Upsert(ctx, "artifacts", "note-1", []float32{0, 1, 0}, Payload{PayloadLogicalID: "note-1", PayloadKind: "debug_note"}); err != nil {
		t.Fatal(err)
	}

	hits, err := m.Search(ctx, "artifacts", []float32{0.9, 0.1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "adr-1" {
		t.Errorf("nearest = %q, want adr-1", hits[0].ID)
	}
	if hits[0].Score <= hits[1].Score {
		t.Error("hits not ordered by descending score")
	}
}

func TestMemory_Upsert_Replaces(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Upsert(ctx, "artifacts", "adr-1", []float32{1, 0}, Payload{"v": "old"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Upsert(ctx, "artifacts", "adr-1", []float32{0, 1}, Payload{"v": "new"}); err != nil {
		t.Fatal(err)
	}

	if m.Len("artifacts") != 1 {
		t.Fatalf("expected 1 entry, got %d", m.Len("artifacts"))
	}
	hits, err := m.Search(ctx, "artifacts", []float32{0, 1}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Payload["v"] != "new" {
		t.Errorf("payload not replaced: %v", hits[0].Payload)
	}
}

func TestMemory_DimensionMismatch(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Upsert(ctx, "artifacts", "a", []float32{1, 0, 0}, nil); err != nil {
		t.Fatal(err)
	}
	_, err := m.Upsert(ctx, "artifacts", "b", []float32{1, 0}, nil)
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected for dimension mismatch, got %v", err)
	}
	_, err = m.Search(ctx, "artifacts", []float32{1}, 5, nil)
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected for query dimension mismatch, got %v", err)
	}
}

func TestMemory_SearchFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	must := func(id, kind string, vec []float32) {
		t.Helper()
		if _, err := m.Upsert(ctx, "artifacts", id, vec, Payload{PayloadKind: kind}); err != nil {
			t.Fatal(err)
		}
	}
	must("adr-1", "architecture_decision", []float32{1, 0})
	must("pat-1", "pattern", []float32{0.9, 0.1})
	must("pat-2", "pattern", []float32{0.8, 0.2})

	hits, err := m.Search(ctx, "artifacts", []float32{1, 0}, 10, Payload{PayloadKind: "pattern"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 pattern hits, got %d", len(hits))
	}
	for _, h := range hits {
		if h.Payload[PayloadKind] != "pattern" {
			t.Errorf("filter leaked kind %q", h.Payload[PayloadKind])
		}
	}
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Upsert(ctx, "artifacts", "adr-1", []float32{1, 0}, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "artifacts", "adr-1"); err != nil {
		t.Fatal(err)
	}
	if m.Len("artifacts") != 0 {
		t.Error("entry not deleted")
	}
	// Deleting again is a no-op, not an error.
	if err := m.Delete(ctx, "artifacts", "adr-1"); err != nil {
		t.Errorf("repeat delete: %v", err)
	}
}

func TestMemory_RejectsEmptyKeys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Upsert(ctx, "", "id", []float32{1}, nil); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected for empty collection, got %v", err)
	}
	if _, err := m.Upsert(ctx, "c", "", []float32{1}, nil); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected for empty id, got %v", err)
	}
	if _, err := m.Search(ctx, "c", []float32{1}, 0, nil); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected for topK=0, got %v", err)
	}
}

func TestMemory_SearchTieBreakByID(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// Identical vectors: identical scores, so ordering falls back to ID.
	for _, id := range []string{"zzz", "aaa", "mmm"} {
		if _, err := m.Upsert(ctx, "artifacts", id, []float32{1, 0}, nil); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := m.Search(ctx, "artifacts", []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"aaa", "mmm", "zzz"}
	for i, h := range hits {
		if h.ID != want[i] {
			t.Errorf("hits[%d] = %q, want %q", i, h.ID, want[i])
		}
	}
}
