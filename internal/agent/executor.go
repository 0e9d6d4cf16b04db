// Package agent drives a tool-using chat model as a pipeline stage.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/agentd/internal/linkmask"
	"github.com/raphaelgruber/agentd/internal/models"
	"github.com/raphaelgruber/agentd/internal/stage"
	"github.com/raphaelgruber/agentd/internal/tools"
)

const (
	DefaultMaxSteps  = 25
	DefaultAgentName = "root_agent"
)

// ErrStepLimit is returned when a turn needs more model calls than allowed.
var ErrStepLimit = errors.New("agent step limit reached")

// Options configures an Executor.
type Options struct {
	Instruction string
	// MaxSteps bounds model calls per turn.
	MaxSteps int
	// KeepPlaceholders leaves link placeholders in the emitted text. The
	// caller restores them later with Links and linkmask.RestoreString.
	KeepPlaceholders bool
	AgentName        string
	Logger           *slog.Logger
}

// Executor implements stage.Executor with a ReAct loop over a chat model.
// Every tool output is masked before the model sees it; model text is
// restored before it is emitted.
type Executor struct {
	model llms.Model
	tools *tools.Registry
	opts  Options

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu      sync.Mutex
	history []llms.MessageContent
	links   *linkmask.Map
}

var (
	_ stage.Executor = (*Executor)(nil)
	_ stage.Releaser = (*Executor)(nil)
)

// New creates an executor. reg may be nil for a tool-less agent.
func New(model llms.Model, reg *tools.Registry, opts Options) *Executor {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Instruction == "" {
		opts.Instruction = DefaultInstruction
	}
	if opts.AgentName == "" {
		opts.AgentName = DefaultAgentName
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if reg == nil {
		reg = tools.NewRegistry(nil)
	}
	return &Executor{
		model:    model,
		tools:    reg,
		opts:     opts,
		sessions: make(map[string]*session),
	}
}

// Open starts a conversation seeded with the system instruction.
func (e *Executor) Open(ctx context.Context, userID string) (stage.Handle, error) {
	if err := ctx.Err(); err != nil {
		return stage.Handle{}, err
	}
	h := stage.Handle{UserID: userID, SessionID: uuid.NewString()}

	e.mu.Lock()
	e.sessions[h.SessionID] = &session{
		history: []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, e.opts.Instruction),
		},
		links: linkmask.NewMap(),
	}
	e.mu.Unlock()
	return h, nil
}

// Release drops the conversation of h.
func (e *Executor) Release(h stage.Handle) {
	e.mu.Lock()
	delete(e.sessions, h.SessionID)
	e.mu.Unlock()
}

// Links returns the link map of h.
func (e *Executor) Links(h stage.Handle) (*linkmask.Map, error) {
	sess, err := e.session(h)
	if err != nil {
		return nil, err
	}
	return sess.links, nil
}

func (e *Executor) session(h stage.Handle) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[h.SessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stage.ErrUnknownHandle, h.SessionID)
	}
	return sess, nil
}

// Drive runs one turn: the model is called until it answers without tool
// calls or asks the user a question.
func (e *Executor) Drive(ctx context.Context, h stage.Handle, message string, emit stage.EmitFunc) error {
	sess, err := e.session(h)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.history = append(sess.history, llms.TextParts(llms.ChatMessageTypeHuman, message))
	ctx = tools.WithEmitter(ctx, emit)
	defs := e.tools.Definitions()

	for step := 0; step < e.opts.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var callOpts []llms.CallOption
		if len(defs) > 0 {
			callOpts = append(callOpts, llms.WithTools(defs))
		}
		resp, err := e.model.GenerateContent(ctx, sess.history, callOpts...)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("model returned no choices")
		}
		choice := resp.Choices[0]

		if len(choice.ToolCalls) == 0 {
			sess.history = append(sess.history, llms.TextParts(llms.ChatMessageTypeAI, choice.Content))
			return e.finish(sess, choice.Content, emit)
		}

		if err := e.runTools(ctx, sess, choice, emit); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %d", ErrStepLimit, e.opts.MaxSteps)
}

// finish emits the final text of a turn as a question or a message.
func (e *Executor) finish(sess *session, text string, emit stage.EmitFunc) error {
	if !e.opts.KeepPlaceholders {
		text = linkmask.RestoreString(text, sess.links)
	}

	if question, options, ok := parseAsk(text); ok {
		return emit(stage.InputRequest{Spec: models.InputSpec{
			AgentName:   e.opts.AgentName,
			Description: question,
			Options:     options,
		}})
	}
	return emit(stage.TextMessage{Author: e.opts.AgentName, Text: text})
}

func (e *Executor) runTools(ctx context.Context, sess *session, choice *llms.ContentChoice, emit stage.EmitFunc) error {
	var parts []llms.ContentPart
	if choice.Content != "" {
		parts = append(parts, llms.TextContent{Text: choice.Content})
		text := choice.Content
		if !e.opts.KeepPlaceholders {
			text = linkmask.RestoreString(text, sess.links)
		}
		if err := emit(stage.TextMessage{Author: e.opts.AgentName, Text: text}); err != nil {
			return err
		}
	}

	calls := make([]stage.ToolCall, 0, len(choice.ToolCalls))
	for _, tc := range choice.ToolCalls {
		parts = append(parts, tc)
		if tc.FunctionCall == nil {
			continue
		}
		calls = append(calls, stage.ToolCall{
			Name: tc.FunctionCall.Name,
			Args: linkmask.RestoreString(tc.FunctionCall.Arguments, sess.links),
		})
	}
	sess.history = append(sess.history, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})

	if err := emit(stage.ToolCallRequest{Calls: calls}); err != nil {
		return err
	}

	outcomes := make([]stage.ToolOutcome, 0, len(choice.ToolCalls))
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		name := tc.FunctionCall.Name
		// The model only ever sees placeholders; tools need real URLs.
		args := linkmask.RestoreString(tc.FunctionCall.Arguments, sess.links)

		output, err := e.tools.Execute(ctx, name, args)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.opts.Logger.Warn("tool failed", "tool", name, "error", err)
			output = "Error: " + err.Error()
		}

		masked, added := sess.links.Mask(output)
		output = masked.(string)
		if added.Len() > 0 {
			e.opts.Logger.Debug("masked tool links", "tool", name, "links", added.Len())
		}

		sess.history = append(sess.history, llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: tc.ID,
				Name:       name,
				Content:    output,
			}},
		})
		outcomes = append(outcomes, stage.ToolOutcome{Name: name, Output: output})
	}

	return emit(stage.ToolResult{Results: outcomes})
}
