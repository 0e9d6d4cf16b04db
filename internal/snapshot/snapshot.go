// Package snapshot persists a best-effort copy of finished work records.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/agentd/internal/models"
)

// Sink stores a snapshot of a record.
type Sink interface {
	Save(ctx context.Context, rec *models.Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rec *models.Record) error

// Save calls f.
func (f SinkFunc) Save(ctx context.Context, rec *models.Record) error {
	return f(ctx, rec)
}

// Discard drops every snapshot.
var Discard Sink = SinkFunc(func(context.Context, *models.Record) error { return nil })

// Multi fans a snapshot out to several sinks. Every sink is attempted;
// failures are joined.
type Multi struct {
	sinks  []namedSink
	logger *slog.Logger
}

type namedSink struct {
	name string
	sink Sink
}

// NewMulti creates an empty fan-out sink.
func NewMulti(logger *slog.Logger) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{logger: logger}
}

// Add registers a sink under name.
func (m *Multi) Add(name string, s Sink) *Multi {
	m.sinks = append(m.sinks, namedSink{name: name, sink: s})
	return m
}

// Len returns the number of registered sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Save writes rec to every sink.
func (m *Multi) Save(ctx context.Context, rec *models.Record) error {
	var errs []error
	for _, ns := range m.sinks {
		if err := ns.sink.Save(ctx, rec); err != nil {
			m.logger.Debug("snapshot sink failed", "sink", ns.name, "request_id", rec.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ns.name, err))
		}
	}
	return errors.Join(errs...)
}
