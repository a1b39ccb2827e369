package memory

import (
	"context"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// History is the short-term chat log per user.
type History interface {
	// Append stores turns in order, all or none.
	Append(ctx context.Context, userID int64, turns ...Turn) error
	// Recent returns up to n turns, oldest first.
	Recent(ctx context.Context, userID int64, n int) ([]Turn, error)
	Clear(ctx context.Context, userID int64) error
}

// Semantic is the long-term memory service (mem0).
type Semantic interface {
	Search(ctx context.Context, userID int64, query string) ([]string, error)
	Remember(ctx context.Context, userID int64, userText, reply string) error
	Clear(ctx context.Context, userID int64) error
}
