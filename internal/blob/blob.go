// Package blob stores published artifacts and record snapshots.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// Store writes objects and hands out URLs to read them.
type Store interface {
	// Put writes the object under key and returns a URL to fetch it.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	// URL returns a fetchable URL for an existing object.
	URL(ctx context.Context, key string) (string, error)
}

// ErrInvalidKey is returned for keys that are empty or escape the store root.
var ErrInvalidKey = errors.New("invalid object key")

// CleanKey normalises key to a relative slash-separated path.
func CleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", ErrInvalidKey
	}
	return k, nil
}
