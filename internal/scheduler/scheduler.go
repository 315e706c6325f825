// Package scheduler runs ingestion jobs on a bounded worker pool with
// retry, exponential backoff and best-effort cancellation.
//
// The scheduler owns task lifecycle only. It never touches index records
// itself; all indexing work happens inside the injected Runner.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semidx/semidx/internal/embedding"
	"github.com/semidx/semidx/internal/index"
	"github.com/semidx/semidx/internal/vecstore"
)

// State is the lifecycle state of one task.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the task will not run again.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

var (
	// ErrRetryExhausted marks a task that failed with retryable errors on
	// every allowed attempt. Resubmission is up to the caller.
	ErrRetryExhausted = errors.New("task retry attempts exhausted")

	// ErrTaskNotFound is returned for unknown task IDs.
	ErrTaskNotFound = errors.New("task not found")

	// ErrQueueFull is returned by Submit when the work queue is at capacity.
	ErrQueueFull = errors.New("task queue full")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("scheduler closed")
)

// Task is a point-in-time snapshot of one scheduled job.
type Task struct {
	ID        string
	LogicalID string
	State     State
	Attempt   int
	NotBefore time.Time
	Err       error
}

// Runner executes the work for one logical ID. The scheduler decides from
// the returned error whether to retry, fail or succeed the task.
type Runner func(ctx context.Context, logicalID string) error

// Clock abstracts time so backoff waits are testable without wall-clock
// sleeps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

// Config bounds the scheduler.
type Config struct {
	// Workers is the maximum number of tasks running at once.
	Workers int

	// QueueSize bounds queued work. Submit returns ErrQueueFull beyond it.
	QueueSize int

	// MaxAttempts caps runs per task, the first attempt included.
	MaxAttempts int

	// BackoffBase is the delay before the first retry; each further retry
	// doubles it, capped at BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (c *Config) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
}

type task struct {
	Task
	done     chan struct{}
	cancel   context.CancelFunc
	cancelMe bool // Cancel was requested while running
	dirty    bool // a submission coalesced in while running; run once more
}

// Scheduler dispatches submitted logical IDs to a fixed pool of workers.
// Resubmitting a logical ID that is already queued or running coalesces
// into the existing task.
type Scheduler struct {
	cfg    Config
	run    Runner
	clock  Clock
	logger *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	work    chan string
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
	tasks  map[string]*task
	active map[string]string // logical ID -> non-terminal task ID
}

// New starts the worker pool. Callers must Close the scheduler to release
// its goroutines. A nil clock uses real time; a nil logger uses
// slog.Default.
func New(cfg Config, run Runner, clock Clock, logger *slog.Logger) (*Scheduler, error) {
	if run == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.withDefaults()

	ctx, stop := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg,
		run:     run,
		clock:   clock,
		logger:  logger,
		baseCtx: ctx,
		stop:    stop,
		work:    make(chan string, cfg.QueueSize),
		tasks:   make(map[string]*task),
		active:  make(map[string]string),
	}
	for range cfg.Workers {
		s.wg.Add(1)
		go s.worker()
	}
	return s, nil
}

// Submit enqueues work for logicalID and returns the task ID. If a task
// for the same logical ID is already queued or running, Submit returns
// that task's ID instead of creating a duplicate. Coalescing into a
// running task marks it to run once more after the in-flight attempt
// finishes: that attempt resolved its input before the submission
// landed, so a fresh run is needed to pick the newer input up.
func (s *Scheduler) Submit(logicalID string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if id, ok := s.active[logicalID]; ok {
		if t := s.tasks[id]; t != nil && t.State == StateRunning {
			t.dirty = true
		}
		s.mu.Unlock()
		return id, nil
	}
	t := &task{
		Task: Task{
			ID:        uuid.NewString(),
			LogicalID: logicalID,
			State:     StateQueued,
			NotBefore: s.clock.Now(),
		},
		done: make(chan struct{}),
	}
	s.tasks[t.ID] = t
	s.active[logicalID] = t.ID
	s.mu.Unlock()

	select {
	case s.work <- t.ID:
		return t.ID, nil
	default:
		s.mu.Lock()
		delete(s.tasks, t.ID)
		delete(s.active, logicalID)
		s.mu.Unlock()
		return "", ErrQueueFull
	}
}

// Task returns a snapshot of the task, or ErrTaskNotFound.
func (s *Scheduler) Task(taskID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t.Task, nil
}

// Done returns a channel closed when the task reaches a terminal state.
func (s *Scheduler) Done(taskID string) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.done, nil
}

// Cancel cancels the task best-effort. A queued task is removed without
// any side effects; a running task has its context cancelled and finishes
// its current step before honoring it. Terminal tasks are a no-op.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	switch t.State {
	case StateQueued:
		s.finish(t, StateCancelled, context.Canceled)
	case StateRunning:
		t.cancelMe = true
		if t.cancel != nil {
			t.cancel()
		}
	}
	return nil
}

// Close stops the workers and cancels any task that has not finished.
// Running tasks have their contexts cancelled and are waited for.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if !t.State.Terminal() {
			s.finish(t, StateCancelled, ErrClosed)
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case id := <-s.work:
			s.execute(id)
		}
	}
}

func (s *Scheduler) execute(id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok || t.State != StateQueued {
		s.mu.Unlock()
		return
	}
	t.State = StateRunning
	t.Attempt++
	ctx, cancel := context.WithCancel(s.baseCtx)
	t.cancel = cancel
	logicalID := t.LogicalID
	attempt := t.Attempt
	s.mu.Unlock()

	err := s.run(ctx, logicalID)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	t.cancel = nil

	switch {
	case err == nil, errors.Is(err, index.ErrStaleWrite):
		// A stale write means a newer ingestion of the same logical ID
		// already won; nothing left to do for this task.
		if t.dirty {
			// A submission coalesced in while this attempt was running.
			// Its input was resolved before the attempt started, so run
			// once more instead of finishing.
			t.dirty = false
			t.State = StateQueued
			t.Attempt = 0
			t.Err = nil
			t.NotBefore = s.clock.Now()
			s.wg.Add(1)
			go s.requeue(t.ID, 0)
			break
		}
		s.finish(t, StateSucceeded, nil)

	case errors.Is(err, context.Canceled) && (t.cancelMe || s.closed):
		s.finish(t, StateCancelled, err)

	case t.cancelMe:
		// A cancel was pending when the attempt errored; do not start
		// another attempt even if a lower layer lost the sentinel.
		s.finish(t, StateCancelled, err)

	case retryable(err) && attempt < s.cfg.MaxAttempts:
		t.dirty = false // the retry reads its input fresh anyway
		t.State = StateQueued
		t.Err = err
		delay := s.backoff(attempt)
		t.NotBefore = s.clock.Now().Add(delay)
		s.logger.Warn("task failed, retrying",
			slog.String("task_id", t.ID),
			slog.String("logical_id", logicalID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))
		s.wg.Add(1)
		go s.requeue(t.ID, delay)

	case retryable(err):
		s.finish(t, StateFailed, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err))

	default:
		s.finish(t, StateFailed, err)
	}
}

// requeue pushes the task back on the work queue after its backoff delay.
func (s *Scheduler) requeue(id string, delay time.Duration) {
	defer s.wg.Done()

	select {
	case <-s.baseCtx.Done():
		return
	case <-s.clock.After(delay):
	}

	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok || t.State != StateQueued {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.work <- id:
	case <-s.baseCtx.Done():
	}
}

// finish moves the task to a terminal state. Callers hold s.mu.
func (s *Scheduler) finish(t *task, state State, err error) {
	t.State = state
	t.Err = err
	delete(s.active, t.LogicalID)
	close(t.done)

	switch state {
	case StateFailed:
		s.logger.Error("task failed",
			slog.String("task_id", t.ID),
			slog.String("logical_id", t.LogicalID),
			slog.Int("attempt", t.Attempt),
			slog.String("error", err.Error()))
	case StateSucceeded:
		s.logger.Debug("task succeeded",
			slog.String("task_id", t.ID),
			slog.String("logical_id", t.LogicalID),
			slog.Int("attempt", t.Attempt))
	}
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.BackoffCap {
			return s.cfg.BackoffCap
		}
	}
	return min(d, s.cfg.BackoffCap)
}

// retryable reports whether the task should be rescheduled. Only provider
// and store outages qualify; permanent rejections fail immediately.
func retryable(err error) bool {
	return errors.Is(err, embedding.ErrTransient) || errors.Is(err, vecstore.ErrUnavailable)
}
