package linkmask

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskRestoreRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"plain string", "see https://example.com/a?x=1 for details"},
		{"no urls", "nothing to see here"},
		{"empty string", ""},
		{"repeated url", "https://a.io/x and again https://a.io/x"},
		{"prefix urls", "https://a.io/path/long and https://a.io/path"},
		{"string slice", []string{"https://a.io", "plain", "http://www.b.org/q"}},
		{"nested", map[string]any{
			"title": "Report",
			"links": []any{"https://docs.example.com/guide", map[string]any{"src": "https://cdn.example.net/x.png"}},
			"count": 3,
			"meta":  map[string]string{"home": "https://example.com"},
		}},
		{"non string passthrough", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			masked, m := Mask(tt.input)
			restored := Restore(masked, m)
			assert.Equal(t, tt.input, restored)
		})
	}
}

func TestMaskHidesURLs(t *testing.T) {
	masked, m := MaskString("read https://example.com/docs now")

	assert.NotContains(t, masked, "https://")
	p, ok := m.Placeholder("https://example.com/docs")
	require.True(t, ok)
	assert.True(t, IsPlaceholder(p))
	assert.Equal(t, "read "+p+" now", masked)
}

func TestMaskDoesNotMutateInput(t *testing.T) {
	in := map[string]any{"u": "https://example.com"}
	_, _ = Mask(in)
	assert.Equal(t, "https://example.com", in["u"])
}

func TestDistinctURLsGetDistinctPlaceholders(t *testing.T) {
	_, m1 := MaskString("https://one.example.com")
	_, m2 := MaskString("https://two.example.com")

	p1, _ := m1.Placeholder("https://one.example.com")
	p2, _ := m2.Placeholder("https://two.example.com")
	assert.NotEqual(t, p1, p2)

	merged := NewMap()
	merged.Merge(m1)
	merged.Merge(m2)
	assert.Equal(t, 2, merged.Len())
}

func TestMergeNeverOverwrites(t *testing.T) {
	m := FromPairs(map[string]string{"https://a.io": "<generated-link-identifier-aaaaaaaa-1>"})
	other := FromPairs(map[string]string{
		"https://a.io": "<generated-link-identifier-bbbbbbbb-2>",
		"https://b.io": "<generated-link-identifier-cccccccc-3>",
	})

	m.Merge(other)

	p, _ := m.Placeholder("https://a.io")
	assert.Equal(t, "<generated-link-identifier-aaaaaaaa-1>", p)
	assert.Equal(t, 2, m.Len())
}

func TestMapMaskReusesAssignments(t *testing.T) {
	session := NewMap()
	first, added1 := session.Mask("https://x.example.com/page")
	second, added2 := session.Mask("again https://x.example.com/page")

	assert.Equal(t, 1, added1.Len())
	assert.Equal(t, 0, added2.Len())
	assert.Equal(t, "again "+first.(string), second)
}

// A generated summary that moves placeholders around must still restore.
func TestRestoreAfterRewrite(t *testing.T) {
	masked, m := MaskString("Result: see https://docs.example.com/guide")
	p, _ := m.Placeholder("https://docs.example.com/guide")
	require.Contains(t, masked, p)

	summary := "Summary: guide at " + p
	assert.Equal(t, "Summary: guide at https://docs.example.com/guide", RestoreString(summary, m))
}

func TestRestoreWithEmptyMap(t *testing.T) {
	in := "text <generated-link-identifier-deadbeef-1>"
	assert.Equal(t, in, RestoreString(in, NewMap()))
	assert.Equal(t, in, RestoreString(in, nil))
}

func TestPlaceholderFormat(t *testing.T) {
	p := newPlaceholder()
	assert.True(t, strings.HasPrefix(p, "<generated-link-identifier-"))
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(p, "<generated-link-identifier-"), ">"), "-")
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 8)
}

func TestConcurrentMasking(t *testing.T) {
	session := NewMap()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = session.Mask("https://shared.example.com and https://other.example.com")
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, session.Len())
}
