package stage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/agentd/internal/models"
)

// Step is one scripted action of a Scripted executor.
type Step struct {
	Event Event
	// Err aborts the drive with this error.
	Err error
	// Delay waits before the step, honouring context cancellation.
	Delay time.Duration
	// Panic makes the drive panic with this value.
	Panic any
	// Block waits until the context is cancelled.
	Block bool
}

// Emit returns a step that emits e.
func Emit(e Event) Step { return Step{Event: e} }

// Fail returns a step that aborts the drive with err.
func Fail(err error) Step { return Step{Err: err} }

// Sleep returns a step that pauses for d.
func Sleep(d time.Duration) Step { return Step{Delay: d} }

// BlockUntilCancelled returns a step that waits for cancellation.
func BlockUntilCancelled() Step { return Step{Block: true} }

// Scripted is a deterministic Executor that replays one turn of steps per
// Drive call. Every handle walks the same script independently.
type Scripted struct {
	turns [][]Step

	mu       sync.Mutex
	sessions map[string]*scriptedSession
	released []string
}

type scriptedSession struct {
	next     int
	messages []string
}

// NewScripted creates an executor that replays turns.
func NewScripted(turns ...[]Step) *Scripted {
	return &Scripted{
		turns:    turns,
		sessions: make(map[string]*scriptedSession),
	}
}

// Open starts a new session.
func (s *Scripted) Open(ctx context.Context, userID string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	h := Handle{UserID: userID, SessionID: uuid.NewString()}
	s.mu.Lock()
	s.sessions[h.SessionID] = &scriptedSession{}
	s.mu.Unlock()
	return h, nil
}

// Drive replays the next turn of the script for h.
func (s *Scripted) Drive(ctx context.Context, h Handle, message string, emit EmitFunc) error {
	s.mu.Lock()
	sess, ok := s.sessions[h.SessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h.SessionID)
	}
	sess.messages = append(sess.messages, message)
	idx := sess.next
	sess.next++
	s.mu.Unlock()

	if idx >= len(s.turns) {
		return nil
	}

	for _, step := range s.turns[idx] {
		if step.Delay > 0 {
			select {
			case <-time.After(step.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if step.Block {
			<-ctx.Done()
			return ctx.Err()
		}
		if step.Panic != nil {
			panic(step.Panic)
		}
		if step.Err != nil {
			return step.Err
		}
		if step.Event == nil {
			continue
		}
		if err := emit(step.Event); err != nil {
			return err
		}
		if _, ok := step.Event.(InputRequest); ok {
			return nil
		}
	}
	return nil
}

// Release forgets the session behind h.
func (s *Scripted) Release(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, h.SessionID)
	s.released = append(s.released, h.SessionID)
}

// Messages returns the messages the session received so far.
func (s *Scripted) Messages(h Handle) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[h.SessionID]; ok {
		return slices.Clone(sess.messages)
	}
	return nil
}

// Released returns the session ids released so far.
func (s *Scripted) Released() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.released)
}

// DemoTurns is a small research-style script used when no LLM is configured.
func DemoTurns(pause time.Duration) [][]Step {
	return [][]Step{
		{
			Emit(TextMessage{Author: "planner", Text: "Planning the research."}),
			Sleep(pause),
			Emit(ToolCallRequest{Calls: []ToolCall{{Name: "web_search"}}}),
			Sleep(pause),
			Emit(ToolResult{Results: []ToolOutcome{{Name: "web_search"}}}),
			Emit(ProgressUpdate{Percent: 40}),
			Emit(InputRequest{Spec: models.InputSpec{
				AgentName:   "planner",
				Description: "Which audience should the report target?",
				Options:     []string{"Engineers", "Executives"},
			}}),
		},
		{
			Emit(TextMessage{Author: "writer", Text: "Drafting the report."}),
			Sleep(pause),
			Emit(ProgressUpdate{Percent: 90}),
			Emit(TextMessage{Author: "writer", Text: "Report finished."}),
		},
	}
}
