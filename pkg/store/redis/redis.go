// Package redis stores machine snapshots in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	hsm "github.com/stateforward/hsm-engine"
	"github.com/stateforward/hsm-engine/pkg/store"
)

type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	codec  store.Codec
}

type Option func(*Store)

// WithTTL expires snapshots ttl after their last save.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

func WithCodec(codec store.Codec) Option {
	return func(s *Store) { s.codec = codec }
}

func New(address, password string, db int, opts ...Option) *Store {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "hsm:snapshot:",
		codec:  store.JSON{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

func (s *Store) Save(ctx context.Context, snapshot *hsm.Snapshot) error {
	data, err := s.codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot %q: %w", snapshot.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(snapshot.ID), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), snapshot.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot %q: %w", snapshot.ID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*hsm.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, store.NotFound(id)
		}
		return nil, fmt.Errorf("load snapshot %q: %w", id, err)
	}
	snapshot, err := s.codec.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %q: %w", id, err)
	}
	snapshot.ID = id
	return snapshot, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.SRem(ctx, s.indexKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns the ids of stored snapshots. Ids whose snapshot expired are
// pruned from the index.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	live := ids[:0]
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.key(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		if n == 0 {
			s.client.SRem(ctx, s.indexKey(), id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

var _ store.Store = (*Store)(nil)
