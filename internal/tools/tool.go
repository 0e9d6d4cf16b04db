// Package tools provides the capabilities the agent can call while
// working on a topic.
package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/agentd/internal/metrics"
	"github.com/raphaelgruber/agentd/internal/stage"
)

// Tool is a single agent capability. Input is the JSON-encoded argument
// object produced by the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema for the tool's inputs
	Execute(ctx context.Context, input string) (string, error)
}

// ErrUnknownTool is returned when the model calls a tool that was never
// registered.
var ErrUnknownTool = errors.New("unknown tool")

// Registry manages the set of available tools.
type Registry struct {
	tools   map[string]Tool
	order   []string
	metrics *metrics.Collector
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(m *metrics.Collector) *Registry {
	return &Registry{tools: make(map[string]Tool), metrics: m}
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the named tool or nil.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Names lists registered tools in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Definitions returns the tool declarations passed to the model.
func (r *Registry) Definitions() []llms.Tool {
	defs := make([]llms.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs the named tool and records its timing.
func (r *Registry) Execute(ctx context.Context, name, input string) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	start := time.Now()
	out, err := t.Execute(ctx, input)
	r.metrics.RecordResult(metrics.OpToolCall, time.Since(start), err)
	return out, err
}

type emitterKey struct{}

// WithEmitter attaches the stage event sink of the running turn to ctx.
// Tools that report progress or publish files emit through it.
func WithEmitter(ctx context.Context, emit stage.EmitFunc) context.Context {
	return context.WithValue(ctx, emitterKey{}, emit)
}

// emit sends ev through the emitter in ctx. Without one the event is
// dropped.
func emit(ctx context.Context, ev stage.Event) error {
	fn, _ := ctx.Value(emitterKey{}).(stage.EmitFunc)
	if fn == nil {
		return nil
	}
	return fn(ev)
}
