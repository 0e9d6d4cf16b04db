package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/agentd/internal/blob"
	"github.com/raphaelgruber/agentd/internal/models"
)

// KeyPrefix is the object key prefix for record snapshots.
const KeyPrefix = "agentd-sessions"

// Key returns the object key of a record snapshot.
func Key(rec *models.Record) string {
	return fmt.Sprintf("%s/%s_%s.json", KeyPrefix, rec.ID, rec.UserID)
}

// BlobSink writes records as JSON documents into a blob store.
type BlobSink struct {
	store blob.Store
}

// NewBlobSink creates a sink backed by store.
func NewBlobSink(store blob.Store) *BlobSink {
	return &BlobSink{store: store}
}

// Save uploads the record's full state.
func (s *BlobSink) Save(ctx context.Context, rec *models.Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if _, err := s.store.Put(ctx, Key(rec), bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	return nil
}
