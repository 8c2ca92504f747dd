package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresSink persists audit entries to PostgreSQL for shared multi-process
// deployments where several simulations report into one ledger.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a sink over the given database handle. The table
// is expected to be provisioned by migration tooling:
//
//	CREATE TABLE IF NOT EXISTS audit_entries (
//		id TEXT PRIMARY KEY, sequence BIGINT, timestamp TIMESTAMPTZ,
//		actor_id TEXT, action TEXT, detail JSONB,
//		payload_hash TEXT, previous_hash TEXT, entry_hash TEXT);
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Write(ctx context.Context, entry *Entry) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("audit: marshal detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
			(id, sequence, timestamp, actor_id, action, detail, payload_hash, previous_hash, entry_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Sequence, entry.Timestamp, entry.ActorID, entry.Action,
		string(detail), entry.PayloadHash, entry.PreviousHash, entry.EntryHash)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}
