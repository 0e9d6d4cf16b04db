package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/agentd/internal/metrics"
	"github.com/raphaelgruber/agentd/internal/models"
	"github.com/raphaelgruber/agentd/internal/snapshot"
	"github.com/raphaelgruber/agentd/internal/stage"
	"github.com/raphaelgruber/agentd/internal/store"
)

// Progress and messages written by the worker.
const (
	resumeProgress = 72

	msgStarted   = "Pipeline started."
	msgResuming  = "Processing your answer"
	msgCompleted = "Pipeline completed."
)

// snapshotTimeout bounds a single snapshot write.
const snapshotTimeout = 30 * time.Second

// worker owns one record from admission to finalization.
type worker struct {
	store        *store.Store
	exec         stage.Executor
	sink         snapshot.Sink
	metrics      *metrics.Collector
	logger       *slog.Logger
	inputTimeout time.Duration
}

// run drives the record to a terminal state. It never panics and always
// leaves the record completed or failed.
func (w *worker) run(ctx context.Context, id string) {
	var (
		handle stage.Handle
		opened bool
		err    error
	)

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("pipeline worker panicked", "request_id", id, "panic", r)
			err = fmt.Errorf("internal panic: %v", r)
		}
		// A cancelled record never completes, even when the stage
		// finished its turn without looking at ctx.
		if ctx.Err() != nil {
			err = context.Cause(ctx)
		}
		w.finalize(id, err)
		w.snapshot(id)
		if rel, ok := w.exec.(stage.Releaser); ok && opened {
			rel.Release(handle)
		}
	}()

	if err = ctx.Err(); err != nil {
		return
	}
	handle, err = w.exec.Open(ctx, uuid.NewString())
	if err != nil {
		err = fmt.Errorf("open execution context: %w", err)
		return
	}
	opened = true

	err = w.drive(ctx, id, handle)
}

func (w *worker) drive(ctx context.Context, id string, h stage.Handle) error {
	rec, err := w.store.Update(id, func(r *models.Record) error {
		r.PipelineStatus = models.StatusRunning
		r.Status = models.LabelInProgress
		r.UserID = h.UserID
		r.SessionID = h.SessionID
		r.AppendUpdate(msgStarted)
		return nil
	})
	if err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	w.logger.Info("pipeline started", "request_id", id, "session_id", h.SessionID)

	message := rec.Topic
	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		start := time.Now()
		err := w.exec.Drive(ctx, h, message, func(ev stage.Event) error {
			return w.apply(id, ev)
		})
		w.metrics.RecordResult(metrics.OpStageDrive, time.Since(start), err)
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if err != nil {
			return fmt.Errorf("stage failed: %w", err)
		}

		rec, err := w.store.Get(id)
		if err != nil {
			return err
		}
		if rec.PipelineStatus != models.StatusWaitingForInput {
			// Completed turn, or failed through a control signal.
			return nil
		}

		w.logger.Info("pipeline waiting for input", "request_id", id)
		answer, err := w.awaitInput(ctx, id)
		if err != nil {
			return err
		}
		if err := w.resume(id); err != nil {
			return err
		}
		message = answer
	}
}

// apply dispatches one event into the store.
func (w *worker) apply(id string, ev stage.Event) error {
	_, err := w.store.Update(id, func(r *models.Record) error {
		next, err := Apply(r, ev)
		if err != nil {
			return err
		}
		*r = *next
		return nil
	})
	if errors.Is(err, store.ErrFinalized) {
		return nil
	}
	if cs, ok := ev.(stage.ControlSignal); ok && err == nil {
		w.logger.Warn("stage reported control signal", "request_id", id, "reason", cs.Reason)
	}
	return err
}

// awaitInput blocks until an answer is deposited, the context is cancelled,
// or the input timeout passes.
func (w *worker) awaitInput(ctx context.Context, id string) (string, error) {
	ready, err := w.store.InputReady(id)
	if err != nil {
		return "", err
	}

	var timeout <-chan time.Time
	if w.inputTimeout > 0 {
		t := time.NewTimer(w.inputTimeout)
		defer t.Stop()
		timeout = t.C
	}

	for {
		answer, ok, err := w.store.TakeInput(id)
		if err != nil {
			return "", err
		}
		if ok {
			return answer, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout:
			return "", fmt.Errorf("%w after %s", ErrInputTimeout, w.inputTimeout)
		}
	}
}

func (w *worker) resume(id string) error {
	_, err := w.store.Update(id, func(r *models.Record) error {
		r.PipelineStatus = models.StatusRunning
		r.Status = models.LabelInProgress
		r.Progress = max(r.Progress, resumeProgress)
		r.UserInputSpecs = nil
		r.AppendUpdate(msgResuming)
		return nil
	})
	if err != nil {
		return fmt.Errorf("resume pipeline: %w", err)
	}
	w.logger.Info("pipeline resumed", "request_id", id)
	return nil
}

// finalize moves the record to its terminal state. Already finalized
// records are left alone.
func (w *worker) finalize(id string, cause error) {
	_, err := w.store.Update(id, func(r *models.Record) error {
		if cause == nil {
			r.Progress = 100
			r.AppendUpdate(msgCompleted)
			r.Finish(models.StatusCompleted, models.LabelCompleted)
			return nil
		}
		label := models.LabelFailed
		if errors.Is(cause, ErrCancelled) {
			label = models.LabelCancelled
		}
		r.Error = cause.Error()
		r.Update = cause.Error()
		r.UserInputSpecs = nil
		r.Finish(models.StatusFailed, label)
		return nil
	})

	switch {
	case errors.Is(err, store.ErrFinalized):
		if cause != nil {
			w.logger.Debug("record already finalized", "request_id", id, "error", cause)
		}
		w.metrics.Incr(metrics.CounterFailed)
		return
	case err != nil:
		w.logger.Error("failed to finalize record", "request_id", id, "error", err)
		return
	}

	switch {
	case cause == nil:
		w.metrics.Incr(metrics.CounterCompleted)
		w.logger.Info("pipeline completed", "request_id", id)
	case errors.Is(cause, ErrCancelled):
		w.metrics.Incr(metrics.CounterCancelled)
		w.logger.Info("pipeline cancelled", "request_id", id, "error", cause)
	default:
		w.metrics.Incr(metrics.CounterFailed)
		w.logger.Error("pipeline failed", "request_id", id, "error", cause)
	}
}

// snapshot persists the final record. Failures are logged and never change the record.
func (w *worker) snapshot(id string) {
	if w.sink == nil {
		return
	}
	rec, err := w.store.Get(id)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	start := time.Now()
	err = w.sink.Save(ctx, rec)
	w.metrics.RecordResult(metrics.OpSnapshot, time.Since(start), err)
	if err != nil {
		w.logger.Warn("failed to snapshot record", "request_id", id, "error", err)
	}
}
