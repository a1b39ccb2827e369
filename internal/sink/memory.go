package sink

import (
	"context"
	"sync"

	"github.com/Vovarama1992/astro-dispatch/internal/queue"
)

// Memory keeps failed envelopes in process; pairs with the memory queue backend.
type Memory struct {
	mu     sync.Mutex
	failed []queue.Failed
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Put(_ context.Context, f queue.Failed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.failed {
		if cur.Envelope.ID == f.Envelope.ID {
			return nil
		}
	}
	m.failed = append(m.failed, f)
	return nil
}

// List returns the newest entries first.
func (m *Memory) List(_ context.Context, limit int) ([]queue.Failed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]queue.Failed, 0, len(m.failed))
	for i := len(m.failed) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.failed[i])
	}
	return out, nil
}
