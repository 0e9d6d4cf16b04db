package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

const (
	maxPageChars = 50000
	maxPageBytes = 5 << 20
	maxLinks     = 50
)

// FetchPage downloads a web page and returns its readable text and links.
type FetchPage struct {
	Client    *http.Client
	UserAgent string
}

// NewFetchPage creates the fetch_page tool.
func NewFetchPage() *FetchPage {
	return &FetchPage{
		Client:    &http.Client{Timeout: 30 * time.Second},
		UserAgent: "Mozilla/5.0 (compatible; agentd/1.0)",
	}
}

func (f *FetchPage) Name() string { return "fetch_page" }

func (f *FetchPage) Description() string {
	return "Fetch a web page and return its main content as clean text together with the links it contains."
}

func (f *FetchPage) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Absolute http(s) URL of the page",
			},
		},
		"required": []string{"url"},
	}
}

func (f *FetchPage) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	pageURL, err := url.Parse(strings.TrimSpace(args.URL))
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return "", fmt.Errorf("invalid url %q", args.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status code %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", fmt.Errorf("parse article: %w", err)
	}

	content := bluemonday.StrictPolicy().Sanitize(article.TextContent)
	if len(content) > maxPageChars {
		content = content[:maxPageChars] + "\n... (content truncated) ..."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", pageURL)
	fmt.Fprintf(&b, "TITLE: %s\n", article.Title)
	if article.Excerpt != "" {
		fmt.Fprintf(&b, "EXCERPT: %s\n", article.Excerpt)
	}
	b.WriteString("\n-- CONTENT --\n")
	b.WriteString(strings.TrimSpace(content))

	if links := extractLinks(body, pageURL); len(links) > 0 {
		b.WriteString("\n\n-- LINKS --\n")
		for _, l := range links {
			b.WriteString("- ")
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// extractLinks returns the distinct absolute http(s) hrefs of the page in
// document order.
func extractLinks(body []byte, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string

	z := html.NewTokenizer(bytes.NewReader(body))
	for len(links) < maxLinks {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		if tok.Data != "a" {
			continue
		}
		for _, attr := range tok.Attr {
			if attr.Key != "href" {
				continue
			}
			ref, err := url.Parse(strings.TrimSpace(attr.Val))
			if err != nil {
				break
			}
			abs := base.ResolveReference(ref)
			abs.Fragment = ""
			if abs.Scheme != "http" && abs.Scheme != "https" {
				break
			}
			if s := abs.String(); !seen[s] {
				seen[s] = true
				links = append(links, s)
			}
			break
		}
	}
	return links
}
