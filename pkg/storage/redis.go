package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ProgressTTL bounds how long a checkpoint survives in Redis without updates.
const ProgressTTL = 7 * 24 * time.Hour

// RedisStore keeps checkpoints in Redis for setups where several machines
// share resumable runs.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ ProgressStore = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ProgressTTL}
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRedisStore(rdb), nil
}

func (s *RedisStore) LoadProgress(ctx context.Context, fileHash string) (*UploadProgress, error) {
	data, err := s.rdb.Get(ctx, ProgressKey(fileHash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p UploadProgress
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", fileHash, err)
	}
	return &p, nil
}

func (s *RedisStore) SaveProgress(ctx context.Context, p *UploadProgress) error {
	if p.FileHash == "" {
		return errors.New("checkpoint has no file hash")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, ProgressKey(p.FileHash), string(data), s.ttl).Err()
}

func (s *RedisStore) DeleteProgress(ctx context.Context, fileHash string) error {
	return s.rdb.Del(ctx, ProgressKey(fileHash)).Err()
}

func (s *RedisStore) ListProgress(ctx context.Context) ([]UploadProgress, error) {
	var (
		out    []UploadProgress
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, progressKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			p, err := s.LoadProgress(ctx, hashFromKey(key))
			if err != nil {
				return nil, err
			}
			// expired between SCAN and GET
			if p == nil {
				continue
			}
			out = append(out, *p)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

// PruneProgress deletes checkpoints older than maxAge. Keys also expire on
// their own after ProgressTTL.
func (s *RedisStore) PruneProgress(ctx context.Context, maxAge time.Duration) (int, error) {
	all, err := s.ListProgress(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for _, p := range all {
		if p.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.DeleteProgress(ctx, p.FileHash); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
