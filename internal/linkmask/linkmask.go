// Package linkmask hides URLs from text generation steps behind opaque
// placeholders and restores them afterwards.
package linkmask

import (
	"cmp"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// urlPattern matches http(s) URLs with a dotted host and an optional path.
var urlPattern = regexp.MustCompile(`https?://(?:www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b(?:[-a-zA-Z0-9()@:%_+.~#?&/=]*)`)

const placeholderPrefix = "<generated-link-identifier-"

// counter makes placeholders unique within the process even if two tokens collide.
var counter atomic.Uint64

func newPlaceholder() string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%s-%d>", placeholderPrefix, token, counter.Add(1))
}

// IsPlaceholder reports whether s looks like a minted placeholder.
func IsPlaceholder(s string) bool {
	return strings.HasPrefix(s, placeholderPrefix) && strings.HasSuffix(s, ">")
}

// Map associates URLs with their placeholders. It only ever grows:
// an assigned placeholder is never changed or removed.
// The zero value is ready to use and safe for concurrent use.
type Map struct {
	mu    sync.RWMutex
	byURL map[string]string
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{byURL: make(map[string]string)}
}

// FromPairs builds a map from URL -> placeholder pairs.
func FromPairs(pairs map[string]string) *Map {
	m := NewMap()
	maps.Copy(m.byURL, pairs)
	return m
}

// Len returns the number of URLs in the map.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byURL)
}

// Placeholder returns the placeholder assigned to url.
func (m *Map) Placeholder(url string) (string, bool) {
	if m == nil {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byURL[url]
	return p, ok
}

// Pairs returns a copy of the URL -> placeholder pairs.
func (m *Map) Pairs() map[string]string {
	if m == nil {
		return map[string]string{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.byURL)
}

// Merge adds every pair of other that m does not know yet.
// Existing assignments in m win.
func (m *Map) Merge(other *Map) {
	if other == nil || other == m {
		return
	}
	pairs := other.Pairs()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byURL == nil {
		m.byURL = make(map[string]string, len(pairs))
	}
	for url, p := range pairs {
		if _, ok := m.byURL[url]; !ok {
			m.byURL[url] = p
		}
	}
}

// assign returns the placeholder for url, minting one if needed.
// The boolean is true when a new placeholder was minted.
func (m *Map) assign(url string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byURL == nil {
		m.byURL = make(map[string]string)
	}
	if p, ok := m.byURL[url]; ok {
		return p, false
	}
	p := newPlaceholder()
	m.byURL[url] = p
	return p, true
}

// Mask replaces every URL in v with a placeholder, reusing placeholders
// already assigned in m. It returns the masked value and a map holding only
// the pairs minted by this call. v is not modified.
func (m *Map) Mask(v any) (any, *Map) {
	added := NewMap()
	out := walk(v, func(s string) string {
		return m.maskString(s, added)
	})
	return out, added
}

func (m *Map) maskString(s string, added *Map) string {
	found := urlPattern.FindAllString(s, -1)
	if len(found) == 0 {
		return s
	}
	slices.SortFunc(found, byLengthDesc)
	found = slices.Compact(found)

	for _, url := range found {
		p, minted := m.assign(url)
		if minted {
			added.mu.Lock()
			added.byURL[url] = p
			added.mu.Unlock()
		}
		s = strings.ReplaceAll(s, url, p)
	}
	return s
}

// Mask replaces every URL in v with a fresh placeholder and returns the
// masked value together with the URL -> placeholder pairs it minted.
// Strings are searched inside []any, []string, map[string]any and
// map[string]string values at any depth. Other values pass through.
func Mask(v any) (any, *Map) {
	return NewMap().Mask(v)
}

// MaskString is Mask for a single string.
func MaskString(s string) (string, *Map) {
	out, m := Mask(s)
	return out.(string), m
}

// Restore replaces every placeholder of m found in v with its URL.
func Restore(v any, m *Map) any {
	if m.Len() == 0 {
		return v
	}
	replacer := m.restorer()
	return walk(v, replacer.Replace)
}

// RestoreString is Restore for a single string.
func RestoreString(s string, m *Map) string {
	if m.Len() == 0 {
		return s
	}
	return m.restorer().Replace(s)
}

// restorer builds a replacer that tries longer placeholders first.
func (m *Map) restorer() *strings.Replacer {
	pairs := m.Pairs()
	placeholders := make([]string, 0, len(pairs))
	toURL := make(map[string]string, len(pairs))
	for url, p := range pairs {
		placeholders = append(placeholders, p)
		toURL[p] = url
	}
	slices.SortFunc(placeholders, byLengthDesc)

	oldnew := make([]string, 0, 2*len(placeholders))
	for _, p := range placeholders {
		oldnew = append(oldnew, p, toURL[p])
	}
	return strings.NewReplacer(oldnew...)
}

func byLengthDesc(a, b string) int {
	if c := cmp.Compare(len(b), len(a)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// walk rebuilds v with fn applied to every string it contains.
func walk(v any, fn func(string) string) any {
	switch t := v.(type) {
	case string:
		return fn(t)
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = fn(s)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = walk(item, fn)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = fn(s)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = walk(item, fn)
		}
		return out
	default:
		return v
	}
}
