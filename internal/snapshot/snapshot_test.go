package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/agentd/internal/blob"
	"github.com/raphaelgruber/agentd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() *models.Record {
	rec := models.NewRecord("req-1", "solar panels", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	rec.UserID = "user-1"
	rec.SessionID = "sess-1"
	rec.AppendUpdate("Pipeline started.")
	return rec
}

func TestKey(t *testing.T) {
	assert.Equal(t, "agentd-sessions/req-1_user-1.json", Key(testRecord()))
}

func TestBlobSinkWritesJSON(t *testing.T) {
	dir := t.TempDir()
	store, err := blob.NewFS(dir, "http://localhost/files")
	require.NoError(t, err)

	rec := testRecord()
	require.NoError(t, NewBlobSink(store).Save(context.Background(), rec))

	data, err := os.ReadFile(filepath.Join(dir, "agentd-sessions", "req-1_user-1.json"))
	require.NoError(t, err)

	var got models.Record
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Topic, got.Topic)
	assert.Equal(t, rec.AgentUpdates, got.AgentUpdates)
}

func TestMultiAttemptsEverySink(t *testing.T) {
	var calls []string
	failing := SinkFunc(func(context.Context, *models.Record) error {
		calls = append(calls, "failing")
		return errors.New("disk full")
	})
	ok := SinkFunc(func(context.Context, *models.Record) error {
		calls = append(calls, "ok")
		return nil
	})

	m := NewMulti(nil).Add("failing", failing).Add("ok", ok)
	assert.Equal(t, 2, m.Len())

	err := m.Save(context.Background(), testRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: disk full")
	assert.Equal(t, []string{"failing", "ok"}, calls)
}

func TestMultiEmpty(t *testing.T) {
	assert.NoError(t, NewMulti(nil).Save(context.Background(), testRecord()))
	assert.NoError(t, Discard.Save(context.Background(), testRecord()))
}
