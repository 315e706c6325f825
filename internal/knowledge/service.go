// Package knowledge is the facade over ingestion, scheduling and search.
// It is the surface the CLI (and any future server) talks to.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/semidx/semidx/internal/artifact"
	"github.com/semidx/semidx/internal/cache"
	"github.com/semidx/semidx/internal/index"
	"github.com/semidx/semidx/internal/query"
	"github.com/semidx/semidx/internal/scheduler"
	"github.com/semidx/semidx/internal/vecstore"
)

// ErrUnknownArtifact is returned by Reindex when no content is held for
// the logical ID. Content lives in the in-process registry, so artifacts
// ingested by an earlier process must be resubmitted through Ingest.
var ErrUnknownArtifact = errors.New("unknown artifact")

// Embedder produces embedding vectors. Satisfied by *embedding.Gateway.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

// Config assembles the service's tunables.
type Config struct {
	// Collection is the vector store collection holding all artifacts.
	Collection string

	Cache     cache.Config
	Scheduler scheduler.Config
	Query     query.Config
}

// Stats is a point-in-time snapshot of the service.
type Stats struct {
	Artifacts int         `json:"artifacts"`
	Cache     cache.Stats `json:"cache"`
}

// Service owns the ingestion pipeline, the task scheduler, the query
// engine and the shared embedding cache. Ingestion is asynchronous:
// Ingest enqueues and returns, completion is observed via IndexState or
// the task's Done channel.
type Service struct {
	pipeline   *index.Pipeline
	scheduler  *scheduler.Scheduler
	engine     *query.Engine
	cache      *cache.Cache
	records    index.RecordStore
	store      vecstore.Store
	collection string
	logger     *slog.Logger

	mu        sync.RWMutex
	artifacts map[string]artifact.Artifact // content by logical ID, for scheduled runs
}

// NewService wires the service. The clock is used for scheduler backoff;
// pass nil for real time.
func NewService(cfg Config, embedder Embedder, store vecstore.Store, records index.RecordStore, clock scheduler.Clock, logger *slog.Logger) (*Service, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := cache.New(cfg.Cache, logger)

	pipeline, err := index.NewPipeline(records, c, embedder, store, cfg.Collection, logger)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	engine, err := query.NewEngine(c, embedder, store, cfg.Collection, cfg.Query, logger)
	if err != nil {
		return nil, fmt.Errorf("create query engine: %w", err)
	}

	s := &Service{
		pipeline:   pipeline,
		engine:     engine,
		cache:      c,
		records:    records,
		store:      store,
		collection: cfg.Collection,
		logger:     logger,
		artifacts:  make(map[string]artifact.Artifact),
	}

	sched, err := scheduler.New(cfg.Scheduler, s.runIngestion, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s.scheduler = sched
	return s, nil
}

// runIngestion is the scheduler's Runner: it resolves the artifact content
// and drives it through the pipeline.
func (s *Service) runIngestion(ctx context.Context, logicalID string) error {
	s.mu.RLock()
	art, ok := s.artifacts[logicalID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownArtifact, logicalID)
	}
	_, err := s.pipeline.Ingest(ctx, art)
	return err
}

// Ingest validates the artifact, registers its content and enqueues an
// ingestion task. It returns immediately; indexing failures surface via
// IndexState and the task, never from Ingest itself.
func (s *Service) Ingest(ctx context.Context, art artifact.Artifact) (logicalID, taskID string, err error) {
	if err := art.Validate(); err != nil {
		return "", "", err
	}

	s.mu.Lock()
	s.artifacts[art.LogicalID] = art
	s.mu.Unlock()

	taskID, err = s.scheduler.Submit(art.LogicalID)
	if err != nil {
		return "", "", fmt.Errorf("enqueue %q: %w", art.LogicalID, err)
	}
	s.logger.Info("artifact enqueued",
		slog.String("logical_id", art.LogicalID),
		slog.String("kind", string(art.Kind)),
		slog.String("task_id", taskID))
	return art.LogicalID, taskID, nil
}

// Reindex re-enqueues the artifact with its currently registered content.
// Unchanged content short-circuits in the pipeline, so reindexing is cheap
// unless the embedding model changed.
func (s *Service) Reindex(ctx context.Context, logicalID string) (string, error) {
	s.mu.RLock()
	_, ok := s.artifacts[logicalID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownArtifact, logicalID)
	}
	taskID, err := s.scheduler.Submit(logicalID)
	if err != nil {
		return "", fmt.Errorf("enqueue reindex of %q: %w", logicalID, err)
	}
	return taskID, nil
}

// IndexState returns the index record for logicalID, or index.ErrNotFound.
func (s *Service) IndexState(ctx context.Context, logicalID string) (index.Record, error) {
	return s.records.Get(ctx, logicalID)
}

// Task returns a snapshot of the scheduler task.
func (s *Service) Task(taskID string) (scheduler.Task, error) {
	return s.scheduler.Task(taskID)
}

// TaskDone returns a channel closed when the task reaches a terminal state.
func (s *Service) TaskDone(taskID string) (<-chan struct{}, error) {
	return s.scheduler.Done(taskID)
}

// CancelTask cancels the task best-effort.
func (s *Service) CancelTask(taskID string) error {
	return s.scheduler.Cancel(taskID)
}

// Search runs a semantic query. Filters match payload fields exactly.
func (s *Service) Search(ctx context.Context, text string, topK int, filters map[string]string) ([]query.Result, error) {
	return s.engine.Search(ctx, text, topK, filters)
}

// Delete removes the artifact's vector, its index record and its
// registered content. Deleting an unknown logical ID is a no-op.
func (s *Service) Delete(ctx context.Context, logicalID string) error {
	if err := s.store.Delete(ctx, s.collection, logicalID); err != nil {
		return fmt.Errorf("delete vector for %q: %w", logicalID, err)
	}
	if err := s.records.Delete(ctx, logicalID); err != nil {
		return fmt.Errorf("delete record for %q: %w", logicalID, err)
	}
	s.mu.Lock()
	delete(s.artifacts, logicalID)
	s.mu.Unlock()

	s.logger.Info("artifact deleted", slog.String("logical_id", logicalID))
	return nil
}

// Stats reports record and cache counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	n, err := s.records.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count records: %w", err)
	}
	return Stats{Artifacts: n, Cache: s.cache.Stats()}, nil
}

// Close stops the scheduler and waits for running tasks.
func (s *Service) Close() {
	s.scheduler.Close()
}
