// Package sqlstore keeps work record snapshots in a SQL database.
// PostgreSQL (lib/pq) and SQLite (glebarez/go-sqlite) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/lib/pq"

	"github.com/raphaelgruber/agentd/internal/models"
)

// Dialect selects the SQL flavour.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ErrNotFound is returned when no snapshot exists for a request id.
var ErrNotFound = errors.New("snapshot not found")

// Store writes snapshots into the work_records table.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database and creates the table if needed.
// For SQLite dsn is a file path or ":memory:".
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	var driver string
	switch dialect {
	case Postgres:
		driver = "postgres"
	case SQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// One writer; also keeps ":memory:" on a single connection.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS work_records (
			request_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL,
			pipeline_status TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NULL,
			document TEXT NOT NULL,
			saved_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS work_records_status ON work_records (pipeline_status)`,
		`CREATE INDEX IF NOT EXISTS work_records_started ON work_records (started_at)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveRecord inserts or replaces the snapshot of rec.
func (s *Store) SaveRecord(ctx context.Context, rec *models.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	var ended any
	if rec.EndTimestamp != nil {
		ended = rec.EndTimestamp.UTC()
	}

	q := s.rebind(`
		INSERT INTO work_records
			(request_id, user_id, topic, pipeline_status, progress, started_at, ended_at, document, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id) DO UPDATE SET
			user_id = excluded.user_id,
			pipeline_status = excluded.pipeline_status,
			progress = excluded.progress,
			ended_at = excluded.ended_at,
			document = excluded.document,
			saved_at = excluded.saved_at`)

	_, err = s.db.ExecContext(ctx, q,
		rec.ID, rec.UserID, rec.Topic, string(rec.PipelineStatus), rec.Progress,
		rec.StartTimestamp.UTC(), ended, string(doc), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecord returns the stored snapshot for id.
func (s *Store) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT document FROM work_records WHERE request_id = ?`), id,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}

	var rec models.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

// ListByStatus returns up to limit snapshots with the given status,
// newest first.
func (s *Store) ListByStatus(ctx context.Context, status models.PipelineStatus, limit int) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT document FROM work_records
		WHERE pipeline_status = ?
		ORDER BY started_at DESC
		LIMIT ?`), string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec models.Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Save implements snapshot.Sink.
func (s *Store) Save(ctx context.Context, rec *models.Record) error {
	return s.SaveRecord(ctx, rec)
}
