package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/agentd/internal/blob"
	"github.com/raphaelgruber/agentd/internal/metrics"
	"github.com/raphaelgruber/agentd/internal/stage"
)

type echoTool struct{ err error }

func (echoTool) Name() string               { return "echo" }
func (echoTool) Description() string        { return "echoes its input" }
func (echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (e echoTool) Execute(_ context.Context, input string) (string, error) {
	return input, e.err
}

func TestRegistry(t *testing.T) {
	c := metrics.NewCollector()
	r := NewRegistry(c)
	r.Register(ReportProgress{})
	r.Register(echoTool{})
	r.Register(echoTool{}) // replacing keeps the original position

	assert.Equal(t, []string{"report_progress", "echo"}, r.Names())

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "report_progress", defs[0].Function.Name)
	assert.Equal(t, "echo", defs[1].Function.Name)

	out, err := r.Execute(context.Background(), "echo", `{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)

	_, err = r.Execute(context.Background(), "missing", "{}")
	assert.ErrorIs(t, err, ErrUnknownTool)

	assert.Equal(t, int64(1), c.Snapshot().Operations[metrics.OpToolCall].Count)
}

func TestRegistryCountsToolErrors(t *testing.T) {
	c := metrics.NewCollector()
	r := NewRegistry(c)
	r.Register(echoTool{err: errors.New("nope")})

	_, err := r.Execute(context.Background(), "echo", "{}")
	assert.Error(t, err)
	assert.Equal(t, int64(1), c.Snapshot().Operations[metrics.OpToolCall].Errors)
}

func collect(events *[]stage.Event) stage.EmitFunc {
	return func(ev stage.Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestReportProgress(t *testing.T) {
	var events []stage.Event
	ctx := WithEmitter(context.Background(), collect(&events))

	out, err := ReportProgress{}.Execute(ctx, `{"percent": 40}`)
	require.NoError(t, err)
	assert.Equal(t, "Progress recorded: 40%", out)
	assert.Equal(t, []stage.Event{stage.ProgressUpdate{Percent: 40}}, events)

	_, err = ReportProgress{}.Execute(ctx, `not json`)
	assert.Error(t, err)
}

func TestReportProgressWithoutEmitter(t *testing.T) {
	_, err := ReportProgress{}.Execute(context.Background(), `{"percent": 10}`)
	assert.NoError(t, err)
}

func TestPublishFile(t *testing.T) {
	dir := t.TempDir()
	store, err := blob.NewFS(dir, "http://localhost:8080/files")
	require.NoError(t, err)

	var events []stage.Event
	ctx := WithEmitter(context.Background(), collect(&events))

	out, err := NewPublishFile(store).Execute(ctx,
		`{"name":"../report.md","description":"Final report","content":"# Solar"}`)
	require.NoError(t, err)

	require.Len(t, events, 1)
	fp, ok := events[0].(stage.FileProduced)
	require.True(t, ok)
	assert.Equal(t, "report.md", fp.File.Name)
	assert.Equal(t, "md", fp.File.Filetype)
	assert.Equal(t, "Final report", fp.File.Description)
	assert.True(t, strings.HasPrefix(fp.File.URL, "http://localhost:8080/files/artifacts/"))
	assert.True(t, strings.HasSuffix(fp.File.URL, "/report.md"))
	assert.Contains(t, out, fp.File.URL)

	key := strings.TrimPrefix(fp.File.URL, "http://localhost:8080/files/")
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "# Solar", string(data))
}

func TestPublishFileRequiresName(t *testing.T) {
	store, err := blob.NewFS(t.TempDir(), "http://x")
	require.NoError(t, err)
	_, err = NewPublishFile(store).Execute(context.Background(), `{"name":"","content":"x"}`)
	assert.Error(t, err)
}

type fakeSearch struct {
	query string
}

func (f *fakeSearch) Call(_ context.Context, q string) (string, error) {
	f.query = q
	return "Title: Result\nLink: https://example.com/result", nil
}

func TestWebSearch(t *testing.T) {
	fake := &fakeSearch{}
	s := &WebSearch{client: fake}

	out, err := s.Execute(context.Background(), `{"query":"heat pumps"}`)
	require.NoError(t, err)
	assert.Equal(t, "heat pumps", fake.query)
	assert.Contains(t, out, "https://example.com/result")

	_, err = s.Execute(context.Background(), `{"query":"  "}`)
	assert.Error(t, err)
}

const testPage = `<!DOCTYPE html>
<html><head><title>Heat Pumps Explained</title></head>
<body>
<article>
<h1>Heat Pumps Explained</h1>
<p>A heat pump moves heat from a cold place to a warm place using a refrigeration cycle. It is an efficient way to heat buildings because it moves energy instead of generating it from fuel.</p>
<p>Modern air source heat pumps keep working well below freezing, and ground source systems are even more efficient thanks to stable soil temperatures throughout the year.</p>
<p>See <a href="/guide#install">the installation guide</a> and <a href="https://example.org/cop">coefficient of performance</a>. Also <a href="mailto:info@example.org">mail us</a> or <a href="/guide">the guide again</a>.</p>
</article>
</body></html>`

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, testPage)
	}))
	defer srv.Close()

	f := NewFetchPage()

	out, err := f.Execute(context.Background(), fmt.Sprintf(`{"url":%q}`, srv.URL+"/article"))
	require.NoError(t, err)
	assert.Contains(t, out, "URL: "+srv.URL+"/article")
	assert.Contains(t, out, "Heat Pumps Explained")
	assert.Contains(t, out, "refrigeration cycle")
	assert.Contains(t, out, "-- LINKS --\n- "+srv.URL+"/guide\n- https://example.org/cop\n")
	assert.NotContains(t, out, "mailto:")
	assert.Equal(t, 1, strings.Count(out, "- "+srv.URL+"/guide\n"))

	_, err = f.Execute(context.Background(), fmt.Sprintf(`{"url":%q}`, srv.URL+"/missing"))
	assert.ErrorContains(t, err, "status code 404")

	_, err = f.Execute(context.Background(), `{"url":"ftp://example.com"}`)
	assert.Error(t, err)
}
