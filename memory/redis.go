package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic retries when another writer wins the race
const maxTxRetries = 64

// redisBackend stores each record as a string key under a prefix
type redisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend returns a backend over client. Keys are prefix+id.
func NewRedisBackend(client redis.UniversalClient, prefix string) Backend {
	return &redisBackend{client: client, prefix: prefix}
}

func (b *redisBackend) key(id string) string {
	return b.prefix + id
}

func (b *redisBackend) Load(ctx context.Context, id string) (*Record, error) {
	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return decodeRecord(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return decodeRecord(data)
}

// Update is a WATCH/MULTI transaction retried when the key changes underneath
func (b *redisBackend) Update(ctx context.Context, id string, fn func(*Record) error) error {
	key := b.key(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get failed: %w", err)
		}
		r, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		encoded, err := encodeRecord(r)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := b.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis update of %s: %w after %d attempts", key, redis.TxFailedErr, maxTxRetries)
}

func (b *redisBackend) Close() error {
	return b.client.Close()
}
