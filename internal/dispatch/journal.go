package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// JournalEntry is the generated reply for one request. Recorded is set once the
// exchange has been written to conversational memory.
type JournalEntry struct {
	Reply    string `json:"reply"`
	Recorded bool   `json:"recorded"`
}

// Journal remembers side effects already performed for a request id, so a redelivered
// envelope does not run inference or write memory twice.
type Journal interface {
	Load(ctx context.Context, requestID string) (JournalEntry, bool, error)
	Save(ctx context.Context, requestID string, e JournalEntry) error
}

// journalTTL must outlive any realistic redelivery window.
const journalTTL = 48 * time.Hour

type RedisJournal struct {
	rdb *redis.Client
}

func NewRedisJournal(rdb *redis.Client) *RedisJournal {
	return &RedisJournal{rdb: rdb}
}

func journalKey(requestID string) string {
	return "dispatch:reply:" + requestID
}

func (j *RedisJournal) Load(ctx context.Context, requestID string) (JournalEntry, bool, error) {
	raw, err := j.rdb.Get(ctx, journalKey(requestID)).Result()
	if errors.Is(err, redis.Nil) {
		return JournalEntry{}, false, nil
	}
	if err != nil {
		return JournalEntry{}, false, fmt.Errorf("load journal %s: %w", requestID, err)
	}
	var e JournalEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return JournalEntry{}, false, fmt.Errorf("decode journal %s: %w", requestID, err)
	}
	return e, true, nil
}

func (j *RedisJournal) Save(ctx context.Context, requestID string, e JournalEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := j.rdb.Set(ctx, journalKey(requestID), string(b), journalTTL).Err(); err != nil {
		return fmt.Errorf("save journal %s: %w", requestID, err)
	}
	return nil
}

type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string]JournalEntry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]JournalEntry)}
}

func (j *MemoryJournal) Load(_ context.Context, requestID string) (JournalEntry, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[requestID]
	return e, ok, nil
}

func (j *MemoryJournal) Save(_ context.Context, requestID string, e JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[requestID] = e
	return nil
}
