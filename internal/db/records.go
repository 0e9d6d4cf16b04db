package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/agentd/internal/models"
)

// SaveRecord writes the full state of rec, replacing any earlier snapshot
// of the same request.
func (c *Client) SaveRecord(ctx context.Context, rec *models.Record) error {
	files := rec.AgentFiles
	if files == nil {
		files = []models.AgentFile{}
	}
	updates := rec.AgentUpdates
	if updates == nil {
		updates = []string{}
	}

	sql := `
		UPSERT type::record("work_record", $id) SET
			request_id = $id,
			topic = $topic,
			pipeline_status = $pipeline_status,
			status = $status,
			progress = $progress,
			update = $update,
			agent_updates = $agent_updates,
			agent_files = $agent_files,
			user_input_specs = $user_input_specs,
			error = $error,
			start_timestamp = $start_timestamp,
			update_timestamp = $update_timestamp,
			end_timestamp = $end_timestamp,
			user_id = $user_id,
			session_id = $session_id,
			saved_at = time::now()
	`

	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":               rec.ID,
		"topic":            rec.Topic,
		"pipeline_status":  string(rec.PipelineStatus),
		"status":           rec.Status,
		"progress":         rec.Progress,
		"update":           rec.Update,
		"agent_updates":    updates,
		"agent_files":      files,
		"user_input_specs": rec.UserInputSpecs,
		"error":            rec.Error,
		"start_timestamp":  rec.StartTimestamp,
		"update_timestamp": rec.UpdateTimestamp,
		"end_timestamp":    rec.EndTimestamp,
		"user_id":          rec.UserID,
		"session_id":       rec.SessionID,
	})
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, wrapQueryError(err))
	}
	return nil
}

// GetRecord loads a snapshot by request id. Returns ErrNotFound when no
// snapshot exists.
func (c *Client) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	results, err := surrealdb.Query[[]models.Record](ctx, c.db, `
		SELECT * OMIT id FROM type::record("work_record", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("get record %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// CountByStatus returns the number of stored snapshots per pipeline status.
func (c *Client) CountByStatus(ctx context.Context) (map[models.PipelineStatus]int, error) {
	type row struct {
		Status string `json:"pipeline_status"`
		Count  int    `json:"count"`
	}
	results, err := surrealdb.Query[[]row](ctx, c.db, `
		SELECT pipeline_status, count() AS count FROM work_record GROUP BY pipeline_status
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", wrapQueryError(err))
	}

	counts := make(map[models.PipelineStatus]int, len(models.AllStatuses))
	for _, s := range models.AllStatuses {
		counts[s] = 0
	}
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			counts[models.PipelineStatus(r.Status)] = r.Count
		}
	}
	return counts, nil
}

// Save implements snapshot.Sink.
func (c *Client) Save(ctx context.Context, rec *models.Record) error {
	return c.SaveRecord(ctx, rec)
}
