package models

import "time"

// StatusView is the externally visible projection of a Record.
// The transient answer slot and execution context are never exposed.
type StatusView struct {
	RequestID      string         `json:"request_id"`
	Topic          string         `json:"topic"`
	PipelineStatus PipelineStatus `json:"pipeline_status"`
	Status         string         `json:"status"`
	Progress       int            `json:"progress"`
	Update         string         `json:"update"`
	AgentUpdates   []string       `json:"agent_updates"`
	AgentFiles     []AgentFile    `json:"agent_files"`
	UserInputSpecs *InputSpec     `json:"user_input_specs"`
	Error          *string        `json:"error"`
	StartedAt      time.Time      `json:"started_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	EndedAt        *time.Time     `json:"ended_at"`
}

// View builds the status view for r.
func (r *Record) View() StatusView {
	c := r.Clone()
	v := StatusView{
		RequestID:      c.ID,
		Topic:          c.Topic,
		PipelineStatus: c.PipelineStatus,
		Status:         c.Status,
		Progress:       c.Progress,
		Update:         c.Update,
		AgentUpdates:   c.AgentUpdates,
		AgentFiles:     c.AgentFiles,
		UserInputSpecs: c.UserInputSpecs,
		StartedAt:      c.StartTimestamp,
		UpdatedAt:      c.UpdateTimestamp,
		EndedAt:        c.EndTimestamp,
	}
	if c.Error != "" {
		v.Error = &c.Error
	}
	return v
}
