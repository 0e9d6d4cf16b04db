package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/agentd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(nil)
}

func setStatus(st models.PipelineStatus) func(*models.Record) error {
	return func(r *models.Record) error {
		r.PipelineStatus = st
		return nil
	}
}

func TestCreateAssignsUniqueIDs(t *testing.T) {
	s := newTestStore()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		rec, err := s.Create("topic")
		require.NoError(t, err)
		assert.False(t, seen[rec.ID], "duplicate id %s", rec.ID)
		seen[rec.ID] = true

		got, err := s.Get(rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusQueued, got.PipelineStatus)
		assert.Equal(t, 0, got.Progress)
	}
	assert.Equal(t, 50, s.Len())
}

func TestCreateRejectsBlankTopic(t *testing.T) {
	_, err := newTestStore().Create("   ")
	assert.ErrorIs(t, err, ErrEmptyTopic)
}

func TestGetUnknown(t *testing.T) {
	_, err := newTestStore().Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	s := newTestStore()
	rec, _ := s.Create("t")

	got, _ := s.Get(rec.ID)
	got.Progress = 99
	got.AgentUpdates = append(got.AgentUpdates, "x")

	again, _ := s.Get(rec.ID)
	assert.Equal(t, 0, again.Progress)
	assert.Empty(t, again.AgentUpdates)
}

func TestUpdateInvariants(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*models.Record) error
		mutate func(*models.Record) error
		want   error
	}{
		{
			name:   "progress decrease",
			setup:  func(r *models.Record) error { r.PipelineStatus = models.StatusRunning; r.Progress = 50; return nil },
			mutate: func(r *models.Record) error { r.Progress = 40; return nil },
			want:   ErrInvariant,
		},
		{
			name:   "progress above 100",
			setup:  setStatus(models.StatusRunning),
			mutate: func(r *models.Record) error { r.Progress = 101; return nil },
			want:   ErrInvariant,
		},
		{
			name:   "rewrite updates",
			setup:  func(r *models.Record) error { r.PipelineStatus = models.StatusRunning; r.AppendUpdate("a"); return nil },
			mutate: func(r *models.Record) error { r.AgentUpdates[0] = "b"; return nil },
			want:   ErrInvariant,
		},
		{
			name: "drop files",
			setup: func(r *models.Record) error {
				r.PipelineStatus = models.StatusRunning
				r.AgentFiles = append(r.AgentFiles, models.AgentFile{Name: "a"})
				return nil
			},
			mutate: func(r *models.Record) error { r.AgentFiles = nil; return nil },
			want:   ErrInvariant,
		},
		{
			name:   "queued to waiting",
			setup:  func(r *models.Record) error { return nil },
			mutate: setStatus(models.StatusWaitingForInput),
			want:   ErrInvariant,
		},
		{
			name:   "error on running record",
			setup:  setStatus(models.StatusRunning),
			mutate: func(r *models.Record) error { r.Error = "x"; return nil },
			want:   ErrInvariant,
		},
		{
			name:   "append is fine",
			setup:  func(r *models.Record) error { r.PipelineStatus = models.StatusRunning; r.AppendUpdate("a"); return nil },
			mutate: func(r *models.Record) error { r.AppendUpdate("b"); r.Progress = 10; return nil },
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			rec, _ := s.Create("t")
			_, err := s.Update(rec.ID, tt.setup)
			require.NoError(t, err)
			before, _ := s.Get(rec.ID)

			_, err = s.Update(rec.ID, tt.mutate)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			after, _ := s.Get(rec.ID)
			assert.Equal(t, before, after, "rejected update must not change the record")
		})
	}
}

func TestUpdateMutateError(t *testing.T) {
	s := newTestStore()
	rec, _ := s.Create("t")
	boom := errors.New("boom")

	_, err := s.Update(rec.ID, func(*models.Record) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestTerminalRecordIsFrozen(t *testing.T) {
	s := newTestStore()
	rec, _ := s.Create("t")
	_, err := s.Update(rec.ID, setStatus(models.StatusRunning))
	require.NoError(t, err)

	done, err := s.Update(rec.ID, setStatus(models.StatusCompleted))
	require.NoError(t, err)
	require.NotNil(t, done.EndTimestamp, "terminal transition sets the end timestamp")

	_, err = s.Update(rec.ID, setStatus(models.StatusFailed))
	assert.ErrorIs(t, err, ErrFinalized)
}

func TestTerminalTransitionUsesStoreClock(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	s := New(nil, WithClock(func() time.Time { return at }))
	rec, _ := s.Create("t")
	_, err := s.Update(rec.ID, setStatus(models.StatusRunning))
	require.NoError(t, err)

	done, err := s.Update(rec.ID, func(r *models.Record) error {
		stale := at.Add(-time.Hour)
		r.EndTimestamp = &stale
		r.Finish(models.StatusCompleted, models.LabelCompleted)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, done.EndTimestamp)
	assert.Equal(t, at, *done.EndTimestamp)
	assert.Equal(t, done.UpdateTimestamp, *done.EndTimestamp)
}

func TestTerminalTransitionDropsPendingAnswer(t *testing.T) {
	s := newTestStore()
	rec, _ := s.Create("t")
	_, err := s.Update(rec.ID, setStatus(models.StatusRunning))
	require.NoError(t, err)
	_, err = s.Update(rec.ID, setStatus(models.StatusWaitingForInput))
	require.NoError(t, err)
	require.NoError(t, s.SubmitAnswer(rec.ID, "unread"))

	failed, err := s.Update(rec.ID, func(r *models.Record) error {
		r.Error = "pipeline cancelled: stop"
		r.Finish(models.StatusFailed, models.LabelCancelled)
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, failed.UserInput)

	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.UserInput)
}

func TestUpdateCannotTouchAnswerSlot(t *testing.T) {
	s := newTestStore()
	rec, _ := s.Create("t")
	_, err := s.Update(rec.ID, func(r *models.Record) error {
		a := "forged"
		r.UserInput = &a
		r.PipelineStatus = models.StatusRunning
		return nil
	})
	require.NoError(t, err)

	_, ok, err := s.TakeInput(rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmitAnswer(t *testing.T) {
	s := newTestStore()
	rec, _ := s.Create("t")

	assert.ErrorIs(t, s.SubmitAnswer("missing", "x"), ErrNotFound)

	// Not waiting yet: rejected and record untouched.
	before, _ := s.Get(rec.ID)
	assert.ErrorIs(t, s.SubmitAnswer(rec.ID, "early"), ErrInvalidState)
	after, _ := s.Get(rec.ID)
	assert.Equal(t, before, after)

	_, err := s.Update(rec.ID, setStatus(models.StatusRunning))
	require.NoError(t, err)
	_, err = s.Update(rec.ID, setStatus(models.StatusWaitingForInput))
	require.NoError(t, err)

	ready, err := s.InputReady(rec.ID)
	require.NoError(t, err)

	require.NoError(t, s.SubmitAnswer(rec.ID, "yes"))
	assert.ErrorIs(t, s.SubmitAnswer(rec.ID, "again"), ErrInvalidState, "unconsumed answer blocks a second one")

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("input signal not delivered")
	}

	answer, ok, err := s.TakeInput(rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "yes", answer)

	_, ok, _ = s.TakeInput(rec.ID)
	assert.False(t, ok, "answer is cleared once consumed")
}

func TestChangedIsClosedOnCommit(t *testing.T) {
	s := newTestStore()
	rec, _ := s.Create("t")
	ch, err := s.Changed(rec.ID)
	require.NoError(t, err)

	_, err = s.Update(rec.ID, setStatus(models.StatusRunning))
	require.NoError(t, err)

	select {
	case <-ch:
	default:
		t.Fatal("changed channel not closed")
	}
}

func TestCountsByStatus(t *testing.T) {
	s := newTestStore()
	a, _ := s.Create("a")
	_, _ = s.Create("b")
	_, err := s.Update(a.ID, setStatus(models.StatusRunning))
	require.NoError(t, err)

	counts := s.CountsByStatus()
	assert.Len(t, counts, 5)
	assert.Equal(t, 1, counts[models.StatusQueued])
	assert.Equal(t, 1, counts[models.StatusRunning])
	assert.Equal(t, 0, counts[models.StatusFailed])
}

func TestDeleteIfRechecksPredicate(t *testing.T) {
	s := newTestStore()
	rec, _ := s.Create("t")

	terminal := func(r *models.Record) bool { return r.PipelineStatus.Terminal() }
	assert.False(t, s.DeleteIf(rec.ID, terminal))
	assert.Equal(t, 1, s.Len())

	_, _ = s.Update(rec.ID, setStatus(models.StatusFailed))
	assert.True(t, s.DeleteIf(rec.ID, terminal))
	assert.False(t, s.DeleteIf(rec.ID, terminal))

	_, err := s.Get(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentUpdates(t *testing.T) {
	s := newTestStore()
	rec, _ := s.Create("t")
	_, _ = s.Update(rec.ID, setStatus(models.StatusRunning))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update(rec.ID, func(r *models.Record) error {
				r.AppendUpdate("tick")
				return nil
			})
			_, _ = s.Get(rec.ID)
			_ = s.CountsByStatus()
		}()
	}
	wg.Wait()

	got, _ := s.Get(rec.ID)
	assert.Len(t, got.AgentUpdates, 100)
}
