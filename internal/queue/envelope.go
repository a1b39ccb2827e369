package queue

import (
	"time"

	"github.com/Vovarama1992/astro-dispatch/internal/user"
)

// Payload is the user's message plus what the worker needs to answer it without
// re-reading the user store.
type Payload struct {
	Text      string          `json:"text"`
	ChatID    int64           `json:"chat_id"`
	MessageID int64           `json:"message_id,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
	FirstName string          `json:"first_name,omitempty"`
	BirthData *user.BirthData `json:"birth_data,omitempty"`
}

// Envelope is the unit of work on the queue.
type Envelope struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	Priority     int       `json:"priority"`
	Sequence     int64     `json:"sequence"`
	Payload      Payload   `json:"payload"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	AttemptCount int       `json:"attempt_count"`

	// set while leased to a worker
	LeaseToken     string    `json:"-"`
	LeaseExpiresAt time.Time `json:"-"`
}

// Less is the dispatch order: priority ascending, then sequence ascending.
func Less(a, b *Envelope) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Sequence < b.Sequence
}

func (e *Envelope) clone() *Envelope {
	c := *e
	if e.Payload.BirthData != nil {
		bd := *e.Payload.BirthData
		c.Payload.BirthData = &bd
	}
	return &c
}
