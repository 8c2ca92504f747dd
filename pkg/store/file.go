package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/accordlabs/accord/pkg/audit"
	"github.com/accordlabs/accord/pkg/contracts"
	"github.com/accordlabs/accord/pkg/integrity"
)

// fileState is the on-disk layout of the tenet collection.
type fileState struct {
	Tenets []contracts.Tenet `json:"tenets"`
}

// FileStore is the local durable backend: one JSON state file plus a
// directory of timestamped full-state snapshots, one per mutation.
type FileStore struct {
	admitter
	guard

	mu         sync.Mutex
	path       string
	archiveDir string
	mirror     ArchiveSink
	clock      func() time.Time
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithArchiveMirror additionally uploads every snapshot to sink.
func WithArchiveMirror(sink ArchiveSink) FileOption {
	return func(s *FileStore) { s.mirror = sink }
}

// NewFileStore opens (or creates) the store at path, archiving snapshots
// under archiveDir. It returns the store and its freshly minted grant; the
// caller must hand the grant to the consensus engine and nothing else.
func NewFileStore(path, archiveDir string, gate *integrity.Gate, log *audit.Log, opts ...FileOption) (*FileStore, *Grant, error) {
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("store: create archive dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("store: create data dir: %w", err)
	}

	grant := mintGrant()
	s := &FileStore{
		admitter:   admitter{gate: gate, log: log},
		guard:      guard{grant: grant},
		path:       path,
		archiveDir: archiveDir,
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(fileState{Tenets: []contracts.Tenet{}}); err != nil {
			return nil, nil, err
		}
	}
	return s, grant, nil
}

func (s *FileStore) ReadTenets(_ context.Context) ([]contracts.Tenet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return nil, err
	}
	sortTenets(state.Tenets)
	return state.Tenets, nil
}

func (s *FileStore) WriteTenet(ctx context.Context, tenet contracts.Tenet, grant *Grant) error {
	s.authorize(grant)

	clean, ok := s.admit(ctx, tenet.Text)
	if !ok {
		return nil
	}
	tenet.Text = clean

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	if err := s.archive(ctx); err != nil {
		return err
	}
	state.Tenets = append(state.Tenets, tenet)
	if err := s.save(state); err != nil {
		return err
	}
	return s.record(ctx, "TENET_WRITTEN", map[string]any{"tenet_id": tenet.ID})
}

func (s *FileStore) DeleteTenets(ctx context.Context, ids []string, grant *Grant) error {
	s.authorize(grant)
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	if err := s.archive(ctx); err != nil {
		return err
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := state.Tenets[:0]
	for _, t := range state.Tenets {
		if _, gone := drop[t.ID]; !gone {
			kept = append(kept, t)
		}
	}
	state.Tenets = kept

	if err := s.save(state); err != nil {
		return err
	}
	return s.record(ctx, "TENETS_DELETED", map[string]any{"tenet_ids": ids})
}

func (s *FileStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(fileState{Tenets: []contracts.Tenet{}})
}

// archive copies the current state file into the archive directory before a
// mutation. The snapshot always reflects the pre-mutation state; callers
// must invoke it before touching the state they loaded.
func (s *FileStore) archive(ctx context.Context) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("store: read state for archive: %w", err)
	}
	name := s.clock().Format("20060102T150405.000000000") + ".json"
	dest := filepath.Join(s.archiveDir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("store: write archive snapshot: %w", err)
	}
	if s.mirror != nil {
		if err := s.mirror.Store(ctx, name, data); err != nil {
			return fmt.Errorf("store: mirror archive snapshot: %w", err)
		}
	}
	return nil
}

func (s *FileStore) load() (fileState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fileState{}, fmt.Errorf("store: read state: %w", err)
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return fileState{}, fmt.Errorf("store: decode state: %w", err)
	}
	return state, nil
}

// save writes atomically via temp file and rename.
func (s *FileStore) save(state fileState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("store: replace state: %w", err)
	}
	return nil
}

// Snapshots returns the archive snapshot filenames in lexical (time) order.
func (s *FileStore) Snapshots() ([]string, error) {
	entries, err := os.ReadDir(s.archiveDir)
	if err != nil {
		return nil, fmt.Errorf("store: list archive: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
