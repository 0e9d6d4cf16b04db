package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/agentd/internal/models"
	"github.com/raphaelgruber/agentd/internal/pipeline"
	"github.com/raphaelgruber/agentd/internal/server"
	"github.com/raphaelgruber/agentd/internal/stage"
	"github.com/raphaelgruber/agentd/internal/store"
)

func newTestClient(t *testing.T, exec stage.Executor) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(logger)
	m := pipeline.NewManager(st, exec, pipeline.Options{Workers: 2, Logger: logger})
	m.Start()
	srv := httptest.NewServer(server.New(m, st, nil, server.Options{Logger: logger}).Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return New(srv.URL + "/")
}

func TestNewDefaults(t *testing.T) {
	t.Setenv("AGENTD_SERVER_URL", "")
	t.Setenv("AGENTD_CLIENT_TIMEOUT", "")
	c := New("")
	assert.Equal(t, DefaultServerURL, c.Endpoint())
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)

	t.Setenv("AGENTD_SERVER_URL", "http://agentd:9000/")
	t.Setenv("AGENTD_CLIENT_TIMEOUT", "5s")
	c = New("")
	assert.Equal(t, "http://agentd:9000", c.Endpoint())
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
}

func TestRunAnswerWatch(t *testing.T) {
	c := newTestClient(t, stage.NewScripted(stage.DemoTurns(0)...))
	ctx := context.Background()

	id, err := c.Run(ctx, "Battery recycling")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		view, err := c.Status(ctx, id)
		return err == nil && view.PipelineStatus == models.StatusWaitingForInput
	}, 5*time.Second, 10*time.Millisecond)

	view, err := c.Status(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, view.UserInputSpecs)
	assert.Equal(t, []string{"Engineers", "Executives"}, view.UserInputSpecs.Options)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.WaitingForInput)

	require.NoError(t, c.Answer(ctx, id, "Engineers"))

	var views []*models.StatusView
	err = c.Watch(ctx, id, func(v *models.StatusView) error {
		views = append(views, v)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, views)
	assert.Equal(t, models.StatusCompleted, views[len(views)-1].PipelineStatus)
}

func TestErrors(t *testing.T) {
	c := newTestClient(t, stage.NewScripted())
	ctx := context.Background()

	_, err := c.Status(ctx, "missing")
	assert.True(t, IsNotFound(err))

	_, err = c.Run(ctx, "  ")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Topic is required.", apiErr.Message)

	err = c.Cancel(ctx, "missing", "")
	assert.True(t, IsNotFound(err))

	err = c.Watch(ctx, "missing", func(*models.StatusView) error { return nil })
	assert.True(t, IsNotFound(err))
}

func TestCancelAndHealth(t *testing.T) {
	c := newTestClient(t, stage.NewScripted([]stage.Step{stage.BlockUntilCancelled()}))
	ctx := context.Background()

	id, err := c.Run(ctx, "forever")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, err := c.Status(ctx, id)
		return err == nil && view.PipelineStatus == models.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Cancel(ctx, id, "stop"))
	require.Eventually(t, func() bool {
		view, err := c.Status(ctx, id)
		return err == nil && view.PipelineStatus == models.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.ActiveSessions)
	assert.Nil(t, h.LastCleanup)
}
