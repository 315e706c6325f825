// Package index implements the ingestion pipeline and the per-artifact
// index records it owns.
//
// The pipeline is the only writer of record state transitions. Every
// transition is compare-and-set by version, so a stale in-flight job for an
// older content version can never overwrite a newer result.
package index

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/semidx/semidx/internal/artifact"
)

// State is the indexing state of one logical artifact.
type State string

const (
	StatePending   State = "pending"
	StateEmbedding State = "embedding"
	StateUpserting State = "upserting"
	StateIndexed   State = "indexed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions happen without a new
// ingestion.
func (s State) Terminal() bool { return s == StateIndexed || s == StateFailed }

var (
	// ErrNotFound is returned for logical IDs with no index record.
	ErrNotFound = errors.New("index record not found")

	// ErrStaleWrite reports a discarded transition: a newer ingestion
	// already advanced the record past the version this transition was
	// computed against. It is informational, not a failure — the newer
	// version won.
	ErrStaleWrite = errors.New("stale write discarded")
)

// Record tracks the indexing lifecycle of one logical artifact.
//
// Version counts ingestion generations: it is bumped each time a new
// ingestion is accepted for the logical ID, and every state transition of
// that generation must carry the same version to apply.
type Record struct {
	LogicalID   string
	Kind        artifact.Kind
	Fingerprint string
	StoreRef    string
	State       State
	Version     int64
	LastError   string
	UpdatedAt   time.Time
}

// RecordStore persists index records keyed by logical ID.
//
// Implementations must make Begin and Transition atomic with respect to
// each other so concurrent ingestions of the same logical ID serialize on
// the version counter.
type RecordStore interface {
	// Get returns the record for logicalID, or ErrNotFound.
	Get(ctx context.Context, logicalID string) (Record, error)

	// Begin loads or creates the record for logicalID and decides whether
	// a new ingestion generation starts. If the stored record already has
	// fingerprint fp and is not Failed, Begin returns it unchanged with
	// started=false (the already-current short-circuit). Otherwise it
	// bumps the version, resets the record to Pending with fp, and
	// returns the new record with started=true.
	Begin(ctx context.Context, logicalID string, kind artifact.Kind, fp string) (rec Record, started bool, err error)

	// Transition applies rec's state, store ref and error if and only if
	// the stored version still equals rec.Version. Returns ErrStaleWrite
	// when a newer generation already advanced the record.
	Transition(ctx context.Context, rec Record) error

	// Delete removes the record for logicalID. Missing IDs are a no-op.
	Delete(ctx context.Context, logicalID string) error

	// Count returns the number of records.
	Count(ctx context.Context) (int, error)
}

// MemoryRecords is the in-process RecordStore: an owned map keyed by
// logical ID, guarded by a mutex. It is the default for single-process
// deployments and tests.
type MemoryRecords struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRecords creates an empty in-memory record store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{records: make(map[string]Record)}
}

// Get returns the record for logicalID, or ErrNotFound.
func (m *MemoryRecords) Get(ctx context.Context, logicalID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[logicalID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Begin implements RecordStore.
func (m *MemoryRecords) Begin(ctx context.Context, logicalID string, kind artifact.Kind, fp string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[logicalID]
	if ok && cur.Fingerprint == fp && cur.State != StateFailed {
		return cur, false, nil
	}

	rec := Record{
		LogicalID:   logicalID,
		Kind:        kind,
		Fingerprint: fp,
		StoreRef:    cur.StoreRef, // keep the old ref until the new upsert lands
		State:       StatePending,
		Version:     cur.Version + 1,
		UpdatedAt:   time.Now(),
	}
	m.records[logicalID] = rec
	return rec, true, nil
}

// Transition implements RecordStore.
func (m *MemoryRecords) Transition(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[rec.LogicalID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != rec.Version {
		return ErrStaleWrite
	}

	rec.UpdatedAt = time.Now()
	m.records[rec.LogicalID] = rec
	return nil
}

// Delete removes the record for logicalID.
func (m *MemoryRecords) Delete(ctx context.Context, logicalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, logicalID)
	return nil
}

// Count returns the number of records.
func (m *MemoryRecords) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}
