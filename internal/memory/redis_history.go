package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultHistoryLimit = 50
	historyTTL          = 30 * 24 * time.Hour
)

type RedisHistory struct {
	rdb   *redis.Client
	limit int64
}

func NewRedisHistory(rdb *redis.Client) *RedisHistory {
	return &RedisHistory{rdb: rdb, limit: defaultHistoryLimit}
}

func historyKey(userID int64) string {
	return fmt.Sprintf("chat:%d", userID)
}

func (h *RedisHistory) Append(ctx context.Context, userID int64, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	vals := make([]any, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		vals = append(vals, string(b))
	}
	key := historyKey(userID)
	_, err := h.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, vals...)
		p.LTrim(ctx, key, -h.limit, -1)
		p.Expire(ctx, key, historyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append chat history: %w", err)
	}
	return nil
}

func (h *RedisHistory) Recent(ctx context.Context, userID int64, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := h.rdb.LRange(ctx, historyKey(userID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read chat history: %w", err)
	}
	out := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (h *RedisHistory) Clear(ctx context.Context, userID int64) error {
	if err := h.rdb.Del(ctx, historyKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	return nil
}

// MemoryHistory is the in-process History.
type MemoryHistory struct {
	mu    sync.Mutex
	turns map[int64][]Turn
	limit int
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{turns: make(map[int64][]Turn), limit: defaultHistoryLimit}
}

func (h *MemoryHistory) Append(_ context.Context, userID int64, turns ...Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := append(h.turns[userID], turns...)
	if len(all) > h.limit {
		all = all[len(all)-h.limit:]
	}
	h.turns[userID] = all
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, userID int64, n int) ([]Turn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := h.turns[userID]
	if n < len(turns) {
		turns = turns[len(turns)-n:]
	}
	return append([]Turn(nil), turns...), nil
}

func (h *MemoryHistory) Clear(_ context.Context, userID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.turns, userID)
	return nil
}
