// Package audit implements the append-only audit log: one structured,
// hash-chained record per mutating or security-relevant event.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/accordlabs/accord/pkg/canonicalize"
)

// ErrChainBroken indicates the hash chain failed verification.
var ErrChainBroken = errors.New("audit chain is broken")

// Entry is a single immutable audit record.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Entry struct {
	ID           string         `json:"id"`
	Sequence     uint64         `json:"sequence"`
	Timestamp    time.Time      `json:"timestamp"`
	ActorID      string         `json:"actor_id"`
	Action       string         `json:"action"`
	Detail       map[string]any `json:"detail,omitempty"`
	PayloadHash  string         `json:"payload_hash"`
	PreviousHash string         `json:"previous_hash"`
	EntryHash    string         `json:"entry_hash"`
}

// Sink receives entries as they are appended. Sinks must not mutate entries.
type Sink interface {
	Write(ctx context.Context, entry *Entry) error
}

// Log is an append-only audit log with hash chaining. The in-memory chain is
// authoritative; sinks mirror it to durable media.
type Log struct {
	mu           sync.RWMutex
	entries      []*Entry
	sequence     uint64
	chainHead    string
	sinks        []Sink
	suppressNext bool
	clock        func() time.Time
}

// NewLog creates an audit log mirroring entries to the given sinks.
func NewLog(sinks ...Sink) *Log {
	return &Log{
		chainHead: "genesis",
		sinks:     sinks,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock injects a deterministic clock for replay and tests.
func (l *Log) SetClock(clock func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
}

// SuppressNext causes exactly one subsequent Append to be skipped. This is
// the authority-override contract: an accepted override suppresses the very
// next audit write, once.
func (l *Log) SuppressNext() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.suppressNext = true
}

// Append records a new entry and forwards it to every sink. A sink failure
// is a storage failure and is returned to the caller. When a suppression is
// armed, the call consumes it and records nothing.
func (l *Log) Append(ctx context.Context, actorID, action string, detail map[string]any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.suppressNext {
		l.suppressNext = false
		return nil, nil
	}

	payloadHash, err := canonicalize.CanonicalHash(detail)
	if err != nil {
		return nil, fmt.Errorf("audit: payload hash: %w", err)
	}

	l.sequence++
	entry := &Entry{
		ID:           uuid.New().String(),
		Sequence:     l.sequence,
		Timestamp:    l.clock(),
		ActorID:      actorID,
		Action:       action,
		Detail:       detail,
		PayloadHash:  payloadHash,
		PreviousHash: l.chainHead,
	}

	entryHash, err := hashEntry(entry)
	if err != nil {
		l.sequence--
		return nil, fmt.Errorf("audit: entry hash: %w", err)
	}
	entry.EntryHash = entryHash
	l.chainHead = entryHash
	l.entries = append(l.entries, entry)

	for _, sink := range l.sinks {
		if err := sink.Write(ctx, entry); err != nil {
			return entry, fmt.Errorf("audit: sink write: %w", err)
		}
	}
	return entry, nil
}

// hashEntry computes the chain hash of an entry. The hash covers the
// previous hash so any rewrite of history invalidates every later entry.
func hashEntry(entry *Entry) (string, error) {
	return canonicalize.CanonicalHash(struct {
		Sequence     uint64    `json:"sequence"`
		Timestamp    time.Time `json:"timestamp"`
		ActorID      string    `json:"actor_id"`
		Action       string    `json:"action"`
		PayloadHash  string    `json:"payload_hash"`
		PreviousHash string    `json:"previous_hash"`
	}{entry.Sequence, entry.Timestamp, entry.ActorID, entry.Action, entry.PayloadHash, entry.PreviousHash})
}

// Entries returns a snapshot of all recorded entries in append order.
func (l *Log) Entries() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Size returns the number of recorded entries.
func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// ChainHead returns the current head hash of the chain.
func (l *Log) ChainHead() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chainHead
}

// VerifyChain recomputes every entry hash and checks the links.
func (l *Log) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Verify(l.entries)
}

// Verify checks the hash chain of entries in append order. It works on any
// entry slice, including one reloaded from a durable sink.
func Verify(entries []*Entry) error {
	expectedPrev := "genesis"
	for i, entry := range entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s, expected %s",
				ErrChainBroken, i, entry.PreviousHash, expectedPrev)
		}
		computed, err := hashEntry(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, entry.EntryHash)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}
