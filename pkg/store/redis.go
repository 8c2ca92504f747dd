package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/accordlabs/accord/pkg/audit"
	"github.com/accordlabs/accord/pkg/contracts"
	"github.com/accordlabs/accord/pkg/integrity"
)

// defaultArchiveDepth bounds the rolling snapshot list in Redis.
const defaultArchiveDepth = 64

// RedisStore is the remote shared backend for multi-process deployments:
// a hash keyed by tenet ID, a bounded rolling archive list, and an
// append-only audit stream. Semantics match FileStore exactly.
type RedisStore struct {
	admitter
	guard

	mu           sync.Mutex
	client       *redis.Client
	prefix       string
	archiveDepth int64
	clock        func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithArchiveDepth bounds the rolling archive list (default 64 snapshots).
func WithArchiveDepth(n int64) RedisOption {
	return func(s *RedisStore) { s.archiveDepth = n }
}

// NewRedisStore creates a store over client using prefix for its keys and
// returns it with its freshly minted grant.
func NewRedisStore(client *redis.Client, prefix string, gate *integrity.Gate, log *audit.Log, opts ...RedisOption) (*RedisStore, *Grant) {
	grant := mintGrant()
	s := &RedisStore{
		admitter:     admitter{gate: gate, log: log},
		guard:        guard{grant: grant},
		client:       client,
		prefix:       prefix,
		archiveDepth: defaultArchiveDepth,
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, grant
}

func (s *RedisStore) tenetsKey() string  { return s.prefix + ":tenets" }
func (s *RedisStore) archiveKey() string { return s.prefix + ":archive" }
func (s *RedisStore) streamKey() string  { return s.prefix + ":audit" }

func (s *RedisStore) ReadTenets(ctx context.Context) ([]contracts.Tenet, error) {
	raw, err := s.client.HGetAll(ctx, s.tenetsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis read: %w", err)
	}
	tenets := make([]contracts.Tenet, 0, len(raw))
	for id, data := range raw {
		var t contracts.Tenet
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("store: decode tenet %s: %w", id, err)
		}
		tenets = append(tenets, t)
	}
	sortTenets(tenets)
	return tenets, nil
}

func (s *RedisStore) WriteTenet(ctx context.Context, tenet contracts.Tenet, grant *Grant) error {
	s.authorize(grant)

	clean, ok := s.admit(ctx, tenet.Text)
	if !ok {
		return nil
	}
	tenet.Text = clean

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.archive(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(tenet)
	if err != nil {
		return fmt.Errorf("store: encode tenet: %w", err)
	}
	if err := s.client.HSet(ctx, s.tenetsKey(), tenet.ID, data).Err(); err != nil {
		return fmt.Errorf("store: redis write: %w", err)
	}
	if err := s.appendStream(ctx, "TENET_WRITTEN", tenet.ID); err != nil {
		return err
	}
	return s.record(ctx, "TENET_WRITTEN", map[string]any{"tenet_id": tenet.ID})
}

func (s *RedisStore) DeleteTenets(ctx context.Context, ids []string, grant *Grant) error {
	s.authorize(grant)
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.archive(ctx); err != nil {
		return err
	}
	if err := s.client.HDel(ctx, s.tenetsKey(), ids...).Err(); err != nil {
		return fmt.Errorf("store: redis delete: %w", err)
	}
	for _, id := range ids {
		if err := s.appendStream(ctx, "TENET_DELETED", id); err != nil {
			return err
		}
	}
	return s.record(ctx, "TENETS_DELETED", map[string]any{"tenet_ids": ids})
}

func (s *RedisStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.client.Del(ctx, s.tenetsKey(), s.archiveKey(), s.streamKey()).Err()
	if err != nil {
		return fmt.Errorf("store: redis reset: %w", err)
	}
	return nil
}

// archive pushes a full pre-mutation snapshot onto a bounded rolling list.
func (s *RedisStore) archive(ctx context.Context) error {
	tenets, err := s.ReadTenets(ctx)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(struct {
		Timestamp time.Time         `json:"timestamp"`
		Tenets    []contracts.Tenet `json:"tenets"`
	}{s.clock(), tenets})
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.archiveKey(), snapshot)
	pipe.LTrim(ctx, s.archiveKey(), 0, s.archiveDepth-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: redis archive: %w", err)
	}
	return nil
}

func (s *RedisStore) appendStream(ctx context.Context, action, tenetID string) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey(),
		Values: map[string]any{
			"action":    action,
			"tenet_id":  tenetID,
			"timestamp": s.clock().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("store: redis audit stream: %w", err)
	}
	return nil
}

// ArchiveLen reports the current rolling archive depth.
func (s *RedisStore) ArchiveLen(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.archiveKey()).Result()
}
