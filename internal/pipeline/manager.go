package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/agentd/internal/metrics"
	"github.com/raphaelgruber/agentd/internal/models"
	"github.com/raphaelgruber/agentd/internal/snapshot"
	"github.com/raphaelgruber/agentd/internal/stage"
	"github.com/raphaelgruber/agentd/internal/store"
)

// Defaults for the worker pool.
const (
	DefaultWorkers      = 8
	DefaultBacklog      = 64
	DefaultInputTimeout = 30 * time.Minute
)

// Options configures a Manager.
type Options struct {
	// Workers is the number of records driven concurrently.
	Workers int
	// Backlog is the number of admitted records that may wait for a worker.
	Backlog int
	// InputTimeout fails records that wait longer for an answer. Zero disables it.
	InputTimeout time.Duration

	Sink    snapshot.Sink
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Manager admits work records and drives them on a bounded worker pool.
type Manager struct {
	store   *store.Store
	worker  *worker
	workers int
	metrics *metrics.Collector
	logger  *slog.Logger

	// slots bounds admitted-but-unfinished records.
	slots chan struct{}
	queue chan string

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	mu      sync.Mutex
	runs    map[string]run
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewManager creates a manager. Call Start before submitting work.
func NewManager(st *store.Store, exec stage.Executor, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Backlog < 0 {
		opts.Backlog = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	capacity := opts.Workers + opts.Backlog
	baseCtx, baseCancel := context.WithCancelCause(context.Background())

	return &Manager{
		store: st,
		worker: &worker{
			store:        st,
			exec:         exec,
			sink:         opts.Sink,
			metrics:      opts.Metrics,
			logger:       opts.Logger,
			inputTimeout: opts.InputTimeout,
		},
		workers:    opts.Workers,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		slots:      make(chan struct{}, capacity),
		queue:      make(chan string, capacity),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		runs:       make(map[string]run),
	}
}

// Start launches the worker goroutines. It is safe to call more than once.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for id := range m.queue {
				m.process(id)
			}
		}()
	}
	m.logger.Info("pipeline workers started", "workers", m.workers, "capacity", cap(m.slots))
}

// Submit creates a record for topic and queues it for a worker.
// It fails with ErrOverloaded before creating anything when the pool is full.
func (m *Manager) Submit(topic string) (*models.Record, error) {
	select {
	case m.slots <- struct{}{}:
	default:
		m.metrics.Incr(metrics.CounterRejected)
		m.logger.Warn("pipeline admission rejected", "capacity", cap(m.slots))
		return nil, ErrOverloaded
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		<-m.slots
		return nil, ErrShuttingDown
	}

	rec, err := m.store.Create(topic)
	if err != nil {
		<-m.slots
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(m.baseCtx)
	m.runs[rec.ID] = run{ctx: ctx, cancel: cancel}
	// Never blocks: the queue is as large as the slot semaphore.
	m.queue <- rec.ID

	m.metrics.Incr(metrics.CounterSubmitted)
	m.logger.Info("pipeline queued", "request_id", rec.ID)
	return rec, nil
}

// run is the cancellation scope of one admitted record.
type run struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// process runs one record and releases its admission slot.
func (m *Manager) process(id string) {
	m.mu.Lock()
	r, ok := m.runs[id]
	m.mu.Unlock()
	if !ok {
		<-m.slots
		return
	}

	defer func() {
		r.cancel(nil)
		m.mu.Lock()
		delete(m.runs, id)
		m.mu.Unlock()
		<-m.slots
	}()
	m.worker.run(r.ctx, id)
}

// Cancel stops a queued, running or waiting record. The record is failed
// with a cancellation error at the next stage boundary.
func (m *Manager) Cancel(id, reason string) error {
	rec, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if rec.PipelineStatus.Terminal() {
		return fmt.Errorf("%w: pipeline already %s", store.ErrInvalidState, rec.PipelineStatus)
	}
	if reason == "" {
		reason = "cancelled by user"
	}

	m.mu.Lock()
	r, ok := m.runs[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no worker owns %s", store.ErrInvalidState, id)
	}

	r.cancel(fmt.Errorf("%w: %s", ErrCancelled, reason))
	m.logger.Info("pipeline cancel requested", "request_id", id, "reason", reason)
	return nil
}

// SubmitAnswer forwards a human answer to a waiting record.
func (m *Manager) SubmitAnswer(id, answer string) error {
	if err := m.store.SubmitAnswer(id, answer); err != nil {
		return err
	}
	m.metrics.Incr(metrics.CounterAnswers)
	m.logger.Info("answer received", "request_id", id)
	return nil
}

// Capacity returns the maximum number of admitted-but-unfinished records.
func (m *Manager) Capacity() int {
	return cap(m.slots)
}

// InFlight returns the number of admitted-but-unfinished records.
func (m *Manager) InFlight() int {
	return len(m.slots)
}

// Shutdown stops admission and waits for in-flight records to finish.
// When ctx expires first, the remaining records are cancelled and failed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	started := m.started
	m.mu.Unlock()

	if !started {
		// Nobody will drain the queue; fail whatever was admitted.
		m.baseCancel(ErrShutdown)
		for id := range m.queue {
			m.process(id)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.baseCancel(nil)
		return nil
	case <-ctx.Done():
		m.logger.Warn("drain deadline passed, cancelling in-flight pipelines", "in_flight", m.InFlight())
		m.baseCancel(ErrShutdown)
		<-done
		return ctx.Err()
	}
}
