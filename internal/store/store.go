// Package store keeps the in-memory registry of work records.
package store

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/agentd/internal/models"
)

// entry holds a record and the channels used to wake its observers.
type entry struct {
	rec *models.Record

	// input carries at most one pending answer notification.
	input chan struct{}
	// changed is closed and replaced on every committed mutation.
	changed chan struct{}
}

// Store is the single source of truth for work records.
// All methods are safe for concurrent use and hand out deep copies.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		entries: make(map[string]*entry),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a queued record for topic under a fresh id.
func (s *Store) Create(topic string) (*models.Record, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, ErrEmptyTopic
	}

	rec := models.NewRecord(uuid.NewString(), topic, s.now())
	e := &entry{
		rec:     rec,
		input:   make(chan struct{}, 1),
		changed: make(chan struct{}),
	}

	s.mu.Lock()
	s.entries[rec.ID] = e
	s.mu.Unlock()

	s.logger.Debug("record created", "request_id", rec.ID)
	return rec.Clone(), nil
}

// Get returns a copy of the record.
func (s *Store) Get(id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.rec.Clone(), nil
}

// Update applies mutate to a copy of the record and commits it if the
// result keeps every record invariant. The answer slot cannot be changed
// through Update, except that a terminal transition clears it. The end
// and update timestamps of a terminal transition are the same instant.
// The committed record is returned.
func (s *Store) Update(id string, mutate func(*models.Record) error) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cur := e.rec
	if cur.PipelineStatus.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrFinalized, id, cur.PipelineStatus)
	}

	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.UserInput = cur.UserInput

	now := s.now()
	if next.PipelineStatus.Terminal() {
		end := now
		next.EndTimestamp = &end
		// A terminal record never consumes a pending answer.
		next.UserInput = nil
	}
	if err := validate(cur, next); err != nil {
		return nil, fmt.Errorf("%w: %s", err, id)
	}

	next.UpdateTimestamp = now
	s.commit(e, next)
	return next.Clone(), nil
}

// commit swaps in the new record and wakes watchers. Caller must hold the write lock.
func (s *Store) commit(e *entry, next *models.Record) {
	e.rec = next
	close(e.changed)
	e.changed = make(chan struct{})
}

func validate(cur, next *models.Record) error {
	switch {
	case next.ID != cur.ID || next.Topic != cur.Topic:
		return fmt.Errorf("%w: identity changed", ErrInvariant)
	case !cur.PipelineStatus.CanTransition(next.PipelineStatus):
		return fmt.Errorf("%w: %s -> %s", ErrInvariant, cur.PipelineStatus, next.PipelineStatus)
	case next.Progress < cur.Progress:
		return fmt.Errorf("%w: progress %d -> %d", ErrInvariant, cur.Progress, next.Progress)
	case next.Progress > 100:
		return fmt.Errorf("%w: progress %d out of range", ErrInvariant, next.Progress)
	case !hasPrefix(next.AgentUpdates, cur.AgentUpdates):
		return fmt.Errorf("%w: agent updates rewritten", ErrInvariant)
	case !hasPrefix(next.AgentFiles, cur.AgentFiles):
		return fmt.Errorf("%w: agent files rewritten", ErrInvariant)
	case cur.EndTimestamp != nil:
		return fmt.Errorf("%w: end timestamp already set", ErrInvariant)
	case next.EndTimestamp != nil && !next.PipelineStatus.Terminal():
		return fmt.Errorf("%w: end timestamp on active record", ErrInvariant)
	case next.Error != "" && next.PipelineStatus != models.StatusFailed:
		return fmt.Errorf("%w: error on non-failed record", ErrInvariant)
	}
	return nil
}

func hasPrefix[T comparable](s, prefix []T) bool {
	return len(s) >= len(prefix) && slices.Equal(s[:len(prefix)], prefix)
}

// SubmitAnswer deposits a human answer for a record that is waiting for
// input and wakes its worker. It writes nothing but the answer slot.
func (s *Store) SubmitAnswer(id, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.rec.PipelineStatus != models.StatusWaitingForInput {
		return fmt.Errorf("%w: session is not expecting input", ErrInvalidState)
	}
	if e.rec.UserInput != nil {
		return fmt.Errorf("%w: previous answer not yet consumed", ErrInvalidState)
	}

	a := answer
	e.rec.UserInput = &a

	select {
	case e.input <- struct{}{}:
	default:
	}
	return nil
}

// TakeInput reads and clears the pending answer.
func (s *Store) TakeInput(id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return "", false, ErrNotFound
	}
	if e.rec.UserInput == nil {
		return "", false, nil
	}
	answer := *e.rec.UserInput
	e.rec.UserInput = nil
	return answer, true, nil
}

// InputReady returns the channel signalled when an answer is deposited.
func (s *Store) InputReady(id string) (<-chan struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.input, nil
}

// Changed returns a channel closed on the record's next committed mutation.
func (s *Store) Changed(id string) (<-chan struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.changed, nil
}

// CountsByStatus returns the number of records in each pipeline status.
// Every status is present, zero counts included.
func (s *Store) CountsByStatus() map[models.PipelineStatus]int {
	counts := make(map[models.PipelineStatus]int, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		counts[st] = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		counts[e.rec.PipelineStatus]++
	}
	return counts
}

// List returns copies of all records, most recent first.
func (s *Store) List() []*models.Record {
	s.mu.RLock()
	recs := make([]*models.Record, 0, len(s.entries))
	for _, e := range s.entries {
		recs = append(recs, e.rec.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(recs, func(a, b *models.Record) int {
		return b.StartTimestamp.Compare(a.StartTimestamp)
	})
	return recs
}

// DeleteIf removes the record if pred still holds for its current state.
func (s *Store) DeleteIf(id string, pred func(*models.Record) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !pred(e.rec.Clone()) {
		return false
	}
	delete(s.entries, id)
	close(e.changed)
	return true
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
