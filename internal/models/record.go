// Package models defines the data structures shared by the agentd packages.
package models

import (
	"slices"
	"time"
)

// PipelineStatus is the lifecycle state of a work record.
type PipelineStatus string

const (
	StatusQueued          PipelineStatus = "queued"
	StatusRunning         PipelineStatus = "running"
	StatusWaitingForInput PipelineStatus = "waiting_for_input"
	StatusCompleted       PipelineStatus = "completed"
	StatusFailed          PipelineStatus = "failed"
)

// AllStatuses lists every pipeline status in lifecycle order.
var AllStatuses = []PipelineStatus{
	StatusQueued,
	StatusRunning,
	StatusWaitingForInput,
	StatusCompleted,
	StatusFailed,
}

// Terminal reports whether no further transitions are allowed.
func (s PipelineStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether a worker currently owns the record.
func (s PipelineStatus) Active() bool {
	return s == StatusRunning || s == StatusWaitingForInput
}

// CanTransition reports whether moving from s to next is a legal state change.
// Staying in the same state is always legal for non-terminal states.
func (s PipelineStatus) CanTransition(next PipelineStatus) bool {
	if s.Terminal() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusWaitingForInput || next == StatusCompleted || next == StatusFailed
	case StatusWaitingForInput:
		return next == StatusRunning || next == StatusFailed
	}
	return false
}

// Advisory status labels written by the dispatcher and worker.
const (
	LabelQueued          = "Queued"
	LabelInProgress      = "In Progress"
	LabelGenerating      = "Generating response"
	LabelExecutingTools  = "Executing tools"
	LabelToolResults     = "Processing tool results"
	LabelFileCreated     = "New file created"
	LabelWaitingForInput = "Waiting for input"
	LabelCompleted       = "Completed"
	LabelFailed          = "Failed"
	LabelCancelled       = "Cancelled"
)

// AgentFile is an artifact produced by a stage.
type AgentFile struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Filetype    string `json:"filetype"`
	Description string `json:"description"`
}

// InputSpec describes the question a stage is waiting on.
type InputSpec struct {
	AgentName   string   `json:"agent_name"`
	Description string   `json:"description"`
	Options     []string `json:"options,omitempty"`
}

// Record is the per-request state of one pipeline run.
type Record struct {
	ID             string         `json:"request_id"`
	Topic          string         `json:"topic"`
	PipelineStatus PipelineStatus `json:"pipeline_status"`
	Status         string         `json:"status"`
	Progress       int            `json:"progress"`
	Update         string         `json:"update"`
	AgentUpdates   []string       `json:"agent_updates"`
	AgentFiles     []AgentFile    `json:"agent_files"`
	UserInputSpecs *InputSpec     `json:"user_input_specs,omitempty"`
	UserInput      *string        `json:"user_input,omitempty"`
	Error          string         `json:"error,omitempty"`

	StartTimestamp  time.Time  `json:"start_timestamp"`
	UpdateTimestamp time.Time  `json:"update_timestamp"`
	EndTimestamp    *time.Time `json:"end_timestamp,omitempty"`

	// Execution context returned by the stage executor.
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// NewRecord returns a queued record for topic.
func NewRecord(id, topic string, now time.Time) *Record {
	return &Record{
		ID:              id,
		Topic:           topic,
		PipelineStatus:  StatusQueued,
		Status:          LabelQueued,
		AgentUpdates:    []string{},
		AgentFiles:      []AgentFile{},
		StartTimestamp:  now,
		UpdateTimestamp: now,
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.AgentUpdates = slices.Clone(r.AgentUpdates)
	c.AgentFiles = slices.Clone(r.AgentFiles)
	if c.AgentUpdates == nil {
		c.AgentUpdates = []string{}
	}
	if c.AgentFiles == nil {
		c.AgentFiles = []AgentFile{}
	}
	if r.UserInputSpecs != nil {
		spec := *r.UserInputSpecs
		spec.Options = slices.Clone(r.UserInputSpecs.Options)
		c.UserInputSpecs = &spec
	}
	if r.UserInput != nil {
		in := *r.UserInput
		c.UserInput = &in
	}
	if r.EndTimestamp != nil {
		end := *r.EndTimestamp
		c.EndTimestamp = &end
	}
	return &c
}

// AppendUpdate sets the latest message and appends it to the history.
func (r *Record) AppendUpdate(msg string) {
	r.Update = msg
	r.AgentUpdates = append(r.AgentUpdates, msg)
}

// Finish marks the record terminal. The store stamps the end timestamp
// when it commits the transition.
func (r *Record) Finish(status PipelineStatus, label string) {
	r.PipelineStatus = status
	r.Status = label
}
