package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Vovarama1992/astro-dispatch/internal/ai"
	"github.com/Vovarama1992/astro-dispatch/internal/memory"
	"github.com/Vovarama1992/astro-dispatch/internal/queue"
	"github.com/Vovarama1992/astro-dispatch/internal/sink"
)

type fakeAgent struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	delay       time.Duration
	respond     func(call int, req ai.Request) (string, error)
}

func (a *fakeAgent) Respond(ctx context.Context, req ai.Request) (string, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.inFlight++
	if a.inFlight > a.maxInFlight {
		a.maxInFlight = a.inFlight
	}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()
	}()

	if a.delay > 0 {
		select {
		case <-ctx.Done():
			return "", &ai.InferenceError{Kind: ai.Transient, Err: ctx.Err()}
		case <-time.After(a.delay):
		}
	}
	if a.respond == nil {
		return "the stars say: " + req.UserText, nil
	}
	return a.respond(call, req)
}

func (a *fakeAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type poolFixture struct {
	pool    *Pool
	queue   *queue.MemoryQueue
	sink    *sink.Memory
	out     *fakeMessenger
	mem     *memory.Service
	journal *MemoryJournal
	agent   *fakeAgent
}

func newPoolFixture(t *testing.T, maxAttempts, workers int, agent *fakeAgent) *poolFixture {
	t.Helper()
	failed := sink.NewMemory()
	q := queue.NewMemoryQueue(queue.Options{MaxAttempts: maxAttempts, LeaseTimeout: time.Minute, Sink: failed})
	t.Cleanup(q.Close)

	f := &poolFixture{
		queue:   q,
		sink:    failed,
		out:     &fakeMessenger{},
		mem:     memory.NewService(memory.NewMemoryHistory(), nil, zap.NewNop()),
		journal: NewMemoryJournal(),
		agent:   agent,
	}
	f.pool = NewPool(PoolConfig{
		Workers:          workers,
		InferenceTimeout: time.Second,
		ReapInterval:     10 * time.Millisecond,
		HistorySize:      10,
	}, q, agent, f.mem, f.out, f.journal, zap.NewNop())
	return f
}

func (f *poolFixture) enqueue(t *testing.T, id string, userID int64, priority int) *queue.Envelope {
	t.Helper()
	bd := birth
	e, err := f.queue.Enqueue(context.Background(), &queue.Envelope{
		ID:       id,
		UserID:   userID,
		Priority: priority,
		Payload:  queue.Payload{Text: "how is today", ChatID: userID, BirthData: &bd},
	})
	require.NoError(t, err)
	return e
}

// start runs the pool until the returned stop func is called.
func (f *poolFixture) start(t *testing.T) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.pool.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("pool did not stop")
		}
	}
}

func (f *poolFixture) waitSent(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.out.all()) >= n }, 2*time.Second, 5*time.Millisecond)
}

func (f *poolFixture) settled(t *testing.T) queue.Status {
	t.Helper()
	st, err := f.queue.Status(context.Background())
	require.NoError(t, err)
	return st
}

func (f *poolFixture) failed(t *testing.T) []queue.Failed {
	t.Helper()
	out, err := f.sink.List(context.Background(), 0)
	require.NoError(t, err)
	return out
}

func TestPoolAnswersAndAcks(t *testing.T) {
	f := newPoolFixture(t, 3, 1, &fakeAgent{})
	f.enqueue(t, "req-1", 42, 5)

	stop := f.start(t)
	f.waitSent(t, 1)
	stop()

	assert.Equal(t, sent{ChatID: 42, Text: "the stars say: how is today"}, f.out.all()[0])
	st := f.settled(t)
	assert.Zero(t, st.Depth)
	assert.Zero(t, st.InFlight)

	turns, err := f.mem.Recent(context.Background(), 42, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, memory.RoleUser, turns[0].Role)

	entry, ok, err := f.journal.Load(context.Background(), "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, entry.Recorded)
}

func TestPoolPassesContextToAgent(t *testing.T) {
	var got ai.Request
	agent := &fakeAgent{respond: func(_ int, req ai.Request) (string, error) {
		got = req
		return "ok", nil
	}}
	f := newPoolFixture(t, 3, 1, agent)
	require.NoError(t, f.mem.RecordExchange(context.Background(), 42, "earlier question", "earlier answer"))
	f.enqueue(t, "req-1", 42, 5)

	stop := f.start(t)
	f.waitSent(t, 1)
	stop()

	assert.Equal(t, "how is today", got.UserText)
	assert.Equal(t, "1990-01-15", got.Profile.BirthDate)
	require.Len(t, got.History, 2)
	assert.Equal(t, "earlier answer", got.History[1].Text)
}

func TestPoolServesHigherPriorityFirst(t *testing.T) {
	f := newPoolFixture(t, 3, 1, &fakeAgent{})
	f.enqueue(t, "b", 2, 5)
	f.enqueue(t, "a", 1, 1)

	stop := f.start(t)
	f.waitSent(t, 2)
	stop()

	all := f.out.all()
	assert.Equal(t, int64(1), all[0].ChatID)
	assert.Equal(t, int64(2), all[1].ChatID)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	agent := &fakeAgent{delay: 20 * time.Millisecond}
	f := newPoolFixture(t, 3, 3, agent)
	for i := 0; i < 12; i++ {
		f.enqueue(t, "", int64(100+i), 1+i%10)
	}

	stop := f.start(t)
	f.waitSent(t, 12)
	stop()

	agent.mu.Lock()
	defer agent.mu.Unlock()
	assert.LessOrEqual(t, agent.maxInFlight, 3)
	assert.Equal(t, 12, agent.calls)
}

func TestPoolRetriesTransientFailure(t *testing.T) {
	agent := &fakeAgent{respond: func(call int, _ ai.Request) (string, error) {
		if call == 1 {
			return "", &ai.InferenceError{Kind: ai.Transient, Err: errors.New("503")}
		}
		return "second time lucky", nil
	}}
	f := newPoolFixture(t, 3, 1, agent)
	f.enqueue(t, "req-1", 42, 5)

	stop := f.start(t)
	f.waitSent(t, 1)
	stop()

	assert.Equal(t, 2, agent.callCount())
	assert.Equal(t, []sent{{ChatID: 42, Text: "second time lucky"}}, f.out.all())
	assert.Empty(t, f.failed(t))
}

func TestPoolExhaustedRetriesApologizeOnce(t *testing.T) {
	agent := &fakeAgent{respond: func(int, ai.Request) (string, error) {
		return "", &ai.InferenceError{Kind: ai.Transient, Err: context.DeadlineExceeded}
	}}
	f := newPoolFixture(t, 2, 1, agent)
	f.enqueue(t, "req-1", 42, 5)

	stop := f.start(t)
	f.waitSent(t, 1)
	stop()

	assert.Equal(t, 2, agent.callCount())
	assert.Equal(t, []sent{{ChatID: 42, Text: apologyText}}, f.out.all())

	failed := f.failed(t)
	require.Len(t, failed, 1)
	assert.Equal(t, "req-1", failed[0].Envelope.ID)
	assert.Equal(t, 2, failed[0].Envelope.AttemptCount)
}

func TestPoolPermanentFailureDeadLettersImmediately(t *testing.T) {
	agent := &fakeAgent{respond: func(int, ai.Request) (string, error) {
		return "", &ai.InferenceError{Kind: ai.Permanent, Err: errors.New("400 bad request")}
	}}
	f := newPoolFixture(t, 5, 1, agent)
	f.enqueue(t, "req-1", 42, 5)

	stop := f.start(t)
	f.waitSent(t, 1)
	stop()

	assert.Equal(t, 1, agent.callCount())
	assert.Equal(t, apologyText, f.out.last().Text)
	assert.Len(t, f.failed(t), 1)
}

func TestPoolMalformedEnvelope(t *testing.T) {
	agent := &fakeAgent{}
	f := newPoolFixture(t, 5, 1, agent)
	_, err := f.queue.Enqueue(context.Background(), &queue.Envelope{
		ID:      "bad",
		UserID:  42,
		Payload: queue.Payload{Text: "how is today", ChatID: 42},
	})
	require.NoError(t, err)

	stop := f.start(t)
	f.waitSent(t, 1)
	stop()

	assert.Zero(t, agent.callCount())
	assert.Equal(t, apologyText, f.out.last().Text)
	assert.Len(t, f.failed(t), 1)
}

func TestPoolRetriesAfterPanic(t *testing.T) {
	agent := &fakeAgent{respond: func(call int, req ai.Request) (string, error) {
		if call == 1 {
			panic("boom")
		}
		return "fine", nil
	}}
	f := newPoolFixture(t, 3, 1, agent)
	f.enqueue(t, "first", 1, 1)
	f.enqueue(t, "second", 2, 5)

	stop := f.start(t)
	f.waitSent(t, 2)
	stop()

	// the retried envelope keeps its place ahead of the lower priority one
	assert.Equal(t, []sent{{ChatID: 1, Text: "fine"}, {ChatID: 2, Text: "fine"}}, f.out.all())
	assert.Equal(t, 3, agent.callCount())
	assert.Empty(t, f.failed(t))
}

func TestPoolPanicsExhaustRetries(t *testing.T) {
	agent := &fakeAgent{respond: func(int, ai.Request) (string, error) {
		panic("boom")
	}}
	f := newPoolFixture(t, 2, 1, agent)
	f.enqueue(t, "req-1", 42, 5)

	stop := f.start(t)
	f.waitSent(t, 1)
	stop()

	assert.Equal(t, 2, agent.callCount())
	assert.Equal(t, []sent{{ChatID: 42, Text: apologyText}}, f.out.all())
	failed := f.failed(t)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Envelope.AttemptCount)
}

func TestPoolShutdownReleasesWithoutCountingAttempt(t *testing.T) {
	agent := &fakeAgent{delay: time.Hour}
	f := newPoolFixture(t, 1, 1, agent)
	f.pool.cfg.InferenceTimeout = time.Hour
	f.enqueue(t, "req-1", 42, 5)

	stop := f.start(t)
	require.Eventually(t, func() bool { return agent.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	// last allowed attempt, yet nothing is dead-lettered and nobody gets an apology
	assert.Empty(t, f.out.all())
	assert.Empty(t, f.failed(t))
	st := f.settled(t)
	assert.Equal(t, 1, st.Depth)
	assert.Zero(t, st.InFlight)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "req-1", e.ID)
	assert.Zero(t, e.AttemptCount)
}

func TestPoolSendFailureDoesNotRepeatSideEffects(t *testing.T) {
	agent := &fakeAgent{}
	f := newPoolFixture(t, 3, 1, agent)
	f.out.failN = 1
	f.enqueue(t, "req-1", 42, 5)

	stop := f.start(t)
	f.waitSent(t, 1)
	stop()

	assert.Equal(t, 1, agent.callCount(), "retry re-sends the journaled reply")
	turns, err := f.mem.Recent(context.Background(), 42, 10)
	require.NoError(t, err)
	assert.Len(t, turns, 2, "memory written once")
}

func TestPoolJournaledReplySkipsInference(t *testing.T) {
	agent := &fakeAgent{respond: func(int, ai.Request) (string, error) {
		return "", errors.New("must not be called")
	}}
	f := newPoolFixture(t, 3, 1, agent)
	require.NoError(t, f.journal.Save(context.Background(), "req-1", JournalEntry{Reply: "cached", Recorded: true}))
	f.enqueue(t, "req-1", 42, 5)

	stop := f.start(t)
	f.waitSent(t, 1)
	stop()

	assert.Zero(t, agent.callCount())
	assert.Equal(t, "cached", f.out.last().Text)
}

func TestPoolRedeliversExpiredLease(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	failed := sink.NewMemory()
	q := queue.NewMemoryQueue(queue.Options{MaxAttempts: 3, LeaseTimeout: time.Minute, Sink: failed, Now: clock.Now})
	t.Cleanup(q.Close)

	f := newPoolFixture(t, 3, 1, &fakeAgent{})
	f.queue = q
	f.pool.queue = q
	f.pool.now = clock.Now
	f.enqueue(t, "req-1", 42, 5)

	// a worker that crashed after taking the lease
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	crashed, err := q.Dequeue(ctx)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	stop := f.start(t)
	f.waitSent(t, 1)
	stop()

	assert.Equal(t, "the stars say: how is today", f.out.last().Text)
	assert.ErrorIs(t, q.Ack(context.Background(), crashed), queue.ErrLeaseLost)
	st, err := q.Status(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.InFlight)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errors.New("redis down")))
	assert.True(t, isRetryable(&ai.InferenceError{Kind: ai.Transient, Err: errors.New("x")}))
	assert.False(t, isRetryable(&ai.InferenceError{Kind: ai.Permanent, Err: errors.New("x")}))
	assert.False(t, isRetryable(ErrMalformed))
	assert.True(t, isRetryable(fmt.Errorf("%w: boom", errWorkerPanic)))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
