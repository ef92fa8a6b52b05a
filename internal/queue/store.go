// Package queue is the durable job ledger. Jobs are stored in Redis as a
// body hash plus two ordered key lists: the backlog ledger and the
// processing ledger that Dequeue claims from.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := queue.NewRedisStore(client, "courier:")
//	if err := s.Ping(ctx); err != nil { ... }
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"courier/internal/payload"
)

const maxTxRetries = 5

type Option func(*RedisStore)

func WithLogger(l *slog.Logger) Option {
	return func(s *RedisStore) { s.logger = l }
}

type RedisStore struct {
	client redis.UniversalClient
	keys   keys
	logger *slog.Logger
}

// NewRedisStore creates a store rooted at prefix. The caller owns the client
// lifecycle.
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...Option) *RedisStore {
	s := &RedisStore{client: client, keys: newKeys(prefix), logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return storeErr("ping", s.client.Ping(ctx).Err())
}

// Enqueue writes the body and appends the key to both ledgers in one
// transaction.
func (s *RedisStore) Enqueue(ctx context.Context, j payload.Job) error {
	key := j.Key.String()
	body, err := j.Encode()
	if err != nil {
		return fmt.Errorf("encode job %s: %w", key, err)
	}

	txf := func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, s.keys.data, key).Result()
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateJob
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.keys.data, key, body)
			pipe.RPush(ctx, s.keys.ledger, key)
			pipe.RPush(ctx, s.keys.processing, key)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txf, s.keys.data)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrDuplicateJob) {
			return err
		}
		return storeErr("enqueue", err)
	}
	return storeErr("enqueue", err)
}

// Dequeue claims up to n keys from the head of the processing ledger and
// returns their jobs. Keys without a readable body are logged and skipped.
// The ledger and bodies are left in place until Complete.
func (s *RedisStore) Dequeue(ctx context.Context, n int) ([]payload.Job, error) {
	if n <= 0 {
		return nil, nil
	}

	var claimed *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		claimed = pipe.LRange(ctx, s.keys.processing, 0, int64(n-1))
		pipe.LTrim(ctx, s.keys.processing, int64(n), -1)
		return nil
	})
	if err != nil {
		return nil, storeErr("dequeue", err)
	}

	jobs, err := s.load(ctx, claimed.Val())
	if err != nil {
		return nil, storeErr("dequeue", err)
	}
	return jobs, nil
}

// Complete removes the body and one ledger occurrence of the key. Completing
// an already-completed job is a no-op.
func (s *RedisStore) Complete(ctx context.Context, j payload.Job) error {
	key := j.Key.String()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.keys.data, key)
		pipe.LRem(ctx, s.keys.ledger, 1, key)
		return nil
	})
	return storeErr("complete", err)
}

// ListPending returns every job addressable through the ledger, in ledger
// order.
func (s *RedisStore) ListPending(ctx context.Context) ([]payload.Job, error) {
	keys, err := s.client.LRange(ctx, s.keys.ledger, 0, -1).Result()
	if err != nil {
		return nil, storeErr("list pending", err)
	}
	jobs, err := s.load(ctx, keys)
	if err != nil {
		return nil, storeErr("list pending", err)
	}
	return jobs, nil
}

// PurgeInvalid removes ledger entries that have no body and returns how many
// entries were removed.
func (s *RedisStore) PurgeInvalid(ctx context.Context) (int, error) {
	keys, err := s.client.LRange(ctx, s.keys.ledger, 0, -1).Result()
	if err != nil {
		return 0, storeErr("purge invalid", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	bodies, err := s.client.HMGet(ctx, s.keys.data, keys...).Result()
	if err != nil {
		return 0, storeErr("purge invalid", err)
	}

	seen := make(map[string]struct{})
	var missing []string
	for i, b := range bodies {
		if b != nil {
			continue
		}
		if _, ok := seen[keys[i]]; ok {
			continue
		}
		seen[keys[i]] = struct{}{}
		missing = append(missing, keys[i])
	}
	if len(missing) == 0 {
		return 0, nil
	}

	cmds := make([]*redis.IntCmd, 0, len(missing))
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range missing {
			cmds = append(cmds, pipe.LRem(ctx, s.keys.ledger, 0, k))
		}
		return nil
	})
	if err != nil {
		return 0, storeErr("purge invalid", err)
	}

	removed := 0
	for _, c := range cmds {
		removed += int(c.Val())
	}
	return removed, nil
}

// Length is the number of ledger entries.
func (s *RedisStore) Length(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, s.keys.ledger).Result()
	if err != nil {
		return 0, storeErr("length", err)
	}
	return n, nil
}

// Reclaim empties the processing ledger and returns how many keys it held.
// Used at startup, before any consumer runs, so that recovered jobs are not
// claimed a second time.
func (s *RedisStore) Reclaim(ctx context.Context) (int, error) {
	var drained *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		drained = pipe.LLen(ctx, s.keys.processing)
		pipe.Del(ctx, s.keys.processing)
		return nil
	})
	if err != nil {
		return 0, storeErr("reclaim", err)
	}
	return int(drained.Val()), nil
}

func (s *RedisStore) load(ctx context.Context, keys []string) ([]payload.Job, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	bodies, err := s.client.HMGet(ctx, s.keys.data, keys...).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]payload.Job, 0, len(keys))
	for i, b := range bodies {
		raw, ok := b.(string)
		if !ok {
			s.logger.WarnContext(ctx, "skipping job without body", "job_key", keys[i])
			continue
		}
		j, err := payload.Decode([]byte(raw))
		if err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable job body", "job_key", keys[i], "error", err)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
