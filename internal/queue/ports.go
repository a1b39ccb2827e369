package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLeaseLost: the caller no longer holds the lease (it expired and was reaped,
	// or the envelope was already settled).
	ErrLeaseLost = errors.New("queue: lease lost")
	ErrClosed    = errors.New("queue: closed")
)

type Disposition int

const (
	Requeued Disposition = iota + 1
	DeadLettered
)

func (d Disposition) String() string {
	switch d {
	case Requeued:
		return "requeued"
	case DeadLettered:
		return "dead_lettered"
	}
	return "unknown"
}

// Failed is what lands in the failed sink.
type Failed struct {
	Envelope Envelope  `json:"envelope"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Sink stores envelopes that will not be retried.
type Sink interface {
	Put(ctx context.Context, f Failed) error
}

// Reaped reports what happened to an envelope whose lease expired.
type Reaped struct {
	Envelope    Envelope
	Disposition Disposition
}

type Status struct {
	Depth            int         `json:"depth"`
	InFlight         int         `json:"in_flight"`
	PerPriority      map[int]int `json:"per_priority_counts"`
	OldestEnqueuedAt *time.Time  `json:"oldest_enqueued_at"`
}

// Queue is the priority dispatch queue with leases.
//
// Dequeue order is (Priority, Sequence); Sequence is assigned by Enqueue and never
// changes, so a retried envelope keeps its place among later arrivals.
type Queue interface {
	// Enqueue assigns ID (when empty), Sequence and EnqueuedAt and resets AttemptCount.
	Enqueue(ctx context.Context, env *Envelope) (*Envelope, error)
	// Dequeue blocks until an envelope is available and returns it leased to the caller.
	Dequeue(ctx context.Context) (*Envelope, error)
	Ack(ctx context.Context, env *Envelope) error
	Nack(ctx context.Context, env *Envelope, retryable bool, reason string) (Disposition, error)
	// Release returns a leased envelope to the queue without counting an attempt.
	Release(ctx context.Context, env *Envelope) error
	// ReapExpired treats every expired lease as Nack(retryable=true).
	ReapExpired(ctx context.Context) ([]Reaped, error)

	Status(ctx context.Context) (Status, error)
	// Purge drops queued envelopes; leased ones are untouched.
	Purge(ctx context.Context) (int, error)
}

type Options struct {
	MaxAttempts  int
	LeaseTimeout time.Duration
	Sink         Sink
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 2 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// shouldRequeue: attemptCount failures happened before this one. The MaxAttempts-th
// failure is final.
func shouldRequeue(attemptCount, maxAttempts int, retryable bool) bool {
	return retryable && attemptCount+1 < maxAttempts
}

const reasonLeaseExpired = "lease expired"
