package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists audit entries to a SQLite database for durable,
// queryable retention across runs.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink creates a sink over the given database handle, creating the
// schema if needed.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteSink opens (or creates) the database at path and returns a sink
// over it. The caller owns closing the returned DB.
func OpenSQLiteSink(path string) (*SQLiteSink, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	sink, err := NewSQLiteSink(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return sink, db, nil
}

func (s *SQLiteSink) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		sequence INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		detail JSON,
		payload_hash TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteSink) Write(ctx context.Context, entry *Entry) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("audit: marshal detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
			(id, sequence, timestamp, actor_id, action, detail, payload_hash, previous_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Sequence, entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.ActorID, entry.Action,
		string(detail), entry.PayloadHash, entry.PreviousHash, entry.EntryHash)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// ReadEntries reloads all persisted entries in sequence order, suitable for
// offline chain verification with Verify.
func (s *SQLiteSink) ReadEntries(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence, timestamp, actor_id, action, detail, payload_hash, previous_hash, entry_hash
		FROM audit_entries ORDER BY sequence`)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		var (
			e      Entry
			ts     string
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Sequence, &ts, &e.ActorID, &e.Action,
			&detail, &e.PayloadHash, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("audit: parse timestamp: %w", err)
		}
		if detail.Valid && detail.String != "" && detail.String != "null" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("audit: parse detail: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Count returns the number of persisted entries.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries").Scan(&n)
	return n, err
}
