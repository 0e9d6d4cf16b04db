package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FS stores objects below a local directory and serves them over HTTP.
type FS struct {
	root    string
	baseURL string
}

// NewFS creates a filesystem store rooted at dir. Returned URLs are
// baseURL joined with the object key.
func NewFS(dir, baseURL string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve blob dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FS{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes r to the file for key, replacing any previous content.
func (s *FS) Put(ctx context.Context, key string, r io.Reader, _ string) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(s.root, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("commit object: %w", err)
	}
	return s.url(k), nil
}

// URL returns the public URL of an existing object.
func (s *FS) URL(_ context.Context, key string) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(k))); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("object %s: %w", k, err)
		}
		return "", err
	}
	return s.url(k), nil
}

func (s *FS) url(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(parts, "/")
}

// Handler serves the stored objects. Mount it under the base URL path
// with http.StripPrefix.
func (s *FS) Handler() http.Handler {
	return http.FileServer(http.Dir(s.root))
}
