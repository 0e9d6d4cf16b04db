// Package stage defines the contract between the pipeline and the external
// processing stages that do the actual work.
package stage

import "github.com/raphaelgruber/agentd/internal/models"

// Event is one observation emitted by a stage while it is driven.
// The set of events is closed: only the types in this package implement it.
type Event interface {
	isEvent()
}

// TextMessage is free text produced by a stage.
type TextMessage struct {
	Author string
	Text   string
}

// ToolCall names a tool a stage is about to run.
type ToolCall struct {
	Name string
	Args string
}

// ToolCallRequest lists the tools a stage is executing.
type ToolCallRequest struct {
	Calls []ToolCall
}

// ToolOutcome is the result of one tool execution.
type ToolOutcome struct {
	Name   string
	Output string
}

// ToolResult lists completed tool executions.
type ToolResult struct {
	Results []ToolOutcome
}

// ControlSignal reports an abnormal condition inside the stage runtime.
type ControlSignal struct {
	Reason string
}

// FileProduced announces an artifact.
type FileProduced struct {
	File models.AgentFile
}

// ProgressUpdate reports a completion percentage.
type ProgressUpdate struct {
	Percent int
}

// InputRequest asks a human for input. The stage stops emitting after it.
type InputRequest struct {
	Spec models.InputSpec
}

func (TextMessage) isEvent()     {}
func (ToolCallRequest) isEvent() {}
func (ToolResult) isEvent()      {}
func (ControlSignal) isEvent()   {}
func (FileProduced) isEvent()    {}
func (ProgressUpdate) isEvent()  {}
func (InputRequest) isEvent()    {}
