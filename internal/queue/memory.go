package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type envHeap []*Envelope

func (h envHeap) Len() int           { return len(h) }
func (h envHeap) Less(i, j int) bool { return Less(h[i], h[j]) }
func (h envHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *envHeap) Push(x any)        { *h = append(*h, x.(*Envelope)) }
func (h *envHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// MemoryQueue is the in-process Queue. Not durable: entries die with the process.
type MemoryQueue struct {
	opts Options

	mu     sync.Mutex
	ready  envHeap
	leased map[int64]*Envelope
	seq    int64
	wake   chan struct{}
	closed bool
}

func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:   opts.withDefaults(),
		leased: make(map[int64]*Envelope),
		wake:   make(chan struct{}),
	}
}

// signalLocked wakes every blocked Dequeue.
func (q *MemoryQueue) signalLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *MemoryQueue) Enqueue(_ context.Context, env *Envelope) (*Envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}

	q.seq++
	e := env.clone()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Sequence = q.seq
	e.EnqueuedAt = q.opts.Now()
	e.AttemptCount = 0
	e.LeaseToken = ""
	e.LeaseExpiresAt = time.Time{}
	heap.Push(&q.ready, e)
	q.signalLocked()

	return e.clone(), nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Envelope, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if q.ready.Len() > 0 {
			e := heap.Pop(&q.ready).(*Envelope)
			e.LeaseToken = uuid.NewString()
			e.LeaseExpiresAt = q.opts.Now().Add(q.opts.LeaseTimeout)
			q.leased[e.Sequence] = e
			out := e.clone()
			q.mu.Unlock()
			return out, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// takeLeasedLocked removes env from the leased set if the caller still owns it.
func (q *MemoryQueue) takeLeasedLocked(env *Envelope) (*Envelope, error) {
	cur, ok := q.leased[env.Sequence]
	if !ok || cur.LeaseToken != env.LeaseToken {
		return nil, ErrLeaseLost
	}
	delete(q.leased, env.Sequence)
	return cur, nil
}

func (q *MemoryQueue) Ack(_ context.Context, env *Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.takeLeasedLocked(env)
	return err
}

func (q *MemoryQueue) Nack(ctx context.Context, env *Envelope, retryable bool, reason string) (Disposition, error) {
	q.mu.Lock()
	cur, err := q.takeLeasedLocked(env)
	if err != nil {
		q.mu.Unlock()
		return 0, err
	}
	if shouldRequeue(cur.AttemptCount, q.opts.MaxAttempts, retryable) {
		q.requeueLocked(cur, true)
		q.mu.Unlock()
		return Requeued, nil
	}
	q.mu.Unlock()

	if err := q.deadLetter(ctx, cur, reason); err != nil {
		return 0, err
	}
	return DeadLettered, nil
}

func (q *MemoryQueue) Release(_ context.Context, env *Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, err := q.takeLeasedLocked(env)
	if err != nil {
		return err
	}
	q.requeueLocked(cur, false)
	return nil
}

func (q *MemoryQueue) requeueLocked(e *Envelope, countAttempt bool) {
	if countAttempt {
		e.AttemptCount++
	}
	e.LeaseToken = ""
	e.LeaseExpiresAt = time.Time{}
	heap.Push(&q.ready, e)
	q.signalLocked()
}

// deadLetter hands e to the sink. If the sink refuses, e goes back to the ready set
// unchanged so it is not lost.
func (q *MemoryQueue) deadLetter(ctx context.Context, e *Envelope, reason string) error {
	failed := Failed{Envelope: *e.clone(), Reason: reason, FailedAt: q.opts.Now()}
	failed.Envelope.AttemptCount++
	failed.Envelope.LeaseToken = ""

	var err error
	if q.opts.Sink == nil {
		err = errors.New("no failed sink configured")
	} else {
		err = q.opts.Sink.Put(ctx, failed)
	}
	if err != nil {
		q.mu.Lock()
		q.requeueLocked(e, false)
		q.mu.Unlock()
		return fmt.Errorf("move envelope %s to failed sink: %w", e.ID, err)
	}
	return nil
}

func (q *MemoryQueue) ReapExpired(ctx context.Context) ([]Reaped, error) {
	now := q.opts.Now()

	q.mu.Lock()
	var (
		out  []Reaped
		dead []*Envelope
	)
	for seq, e := range q.leased {
		if now.Before(e.LeaseExpiresAt) {
			continue
		}
		delete(q.leased, seq)
		if shouldRequeue(e.AttemptCount, q.opts.MaxAttempts, true) {
			q.requeueLocked(e, true)
			out = append(out, Reaped{Envelope: *e.clone(), Disposition: Requeued})
			continue
		}
		dead = append(dead, e)
	}
	q.mu.Unlock()

	var errs []error
	for _, e := range dead {
		if err := q.deadLetter(ctx, e, reasonLeaseExpired); err != nil {
			errs = append(errs, err)
			continue
		}
		reaped := *e.clone()
		reaped.AttemptCount++
		out = append(out, Reaped{Envelope: reaped, Disposition: DeadLettered})
	}
	return out, errors.Join(errs...)
}

func (q *MemoryQueue) Status(_ context.Context) (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Status{
		Depth:       q.ready.Len(),
		InFlight:    len(q.leased),
		PerPriority: make(map[int]int),
	}
	for _, e := range q.ready {
		st.PerPriority[e.Priority]++
		if st.OldestEnqueuedAt == nil || e.EnqueuedAt.Before(*st.OldestEnqueuedAt) {
			t := e.EnqueuedAt
			st.OldestEnqueuedAt = &t
		}
	}
	return st, nil
}

func (q *MemoryQueue) Purge(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.ready.Len()
	q.ready = nil
	return n, nil
}

// Close fails all current and future Dequeue calls with ErrClosed.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.signalLocked()
	}
}
