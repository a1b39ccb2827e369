package wizard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Staging keeps the fragments of an unfinished wizard run.
type Staging interface {
	Load(ctx context.Context, userID int64) (Staged, error)
	Save(ctx context.Context, userID int64, s Staged) error
	Clear(ctx context.Context, userID int64) error
}

// --- redis ---

const stagingTTL = 24 * time.Hour

type RedisStaging struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStaging(rdb *redis.Client) *RedisStaging {
	return &RedisStaging{rdb: rdb, ttl: stagingTTL}
}

func stagingKey(userID int64) string {
	return fmt.Sprintf("wizard:%d", userID)
}

func (r *RedisStaging) Load(ctx context.Context, userID int64) (Staged, error) {
	vals, err := r.rdb.HGetAll(ctx, stagingKey(userID)).Result()
	if err != nil {
		return Staged{}, fmt.Errorf("load wizard staging: %w", err)
	}
	return Staged{Date: vals["date"], Time: vals["time"], Place: vals["place"]}, nil
}

func (r *RedisStaging) Save(ctx context.Context, userID int64, s Staged) error {
	key := stagingKey(userID)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, "date", s.Date, "time", s.Time, "place", s.Place)
		p.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save wizard staging: %w", err)
	}
	return nil
}

func (r *RedisStaging) Clear(ctx context.Context, userID int64) error {
	if err := r.rdb.Del(ctx, stagingKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear wizard staging: %w", err)
	}
	return nil
}

// --- memory ---

type MemoryStaging struct {
	mu sync.Mutex
	m  map[int64]Staged
}

func NewMemoryStaging() *MemoryStaging {
	return &MemoryStaging{m: make(map[int64]Staged)}
}

func (s *MemoryStaging) Load(_ context.Context, userID int64) (Staged, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[userID], nil
}

func (s *MemoryStaging) Save(_ context.Context, userID int64, st Staged) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[userID] = st
	return nil
}

func (s *MemoryStaging) Clear(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, userID)
	return nil
}
