package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Vovarama1992/astro-dispatch/internal/memory"
	"github.com/Vovarama1992/astro-dispatch/internal/queue"
	"github.com/Vovarama1992/astro-dispatch/internal/sink"
	"github.com/Vovarama1992/astro-dispatch/internal/telegram"
	"github.com/Vovarama1992/astro-dispatch/internal/user"
	"github.com/Vovarama1992/astro-dispatch/internal/wizard"
)

var birth = user.BirthData{Date: "1990-01-15", Time: "10:30", Place: "Sydney, NSW"}

type gateFixture struct {
	gate  *Gate
	users *user.MemoryStore
	queue *queue.MemoryQueue
	out   *fakeMessenger
	mem   *memory.Service
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	users := user.NewMemoryStore()
	q := queue.NewMemoryQueue(queue.Options{MaxAttempts: 3, LeaseTimeout: time.Minute, Sink: sink.NewMemory()})
	t.Cleanup(q.Close)
	out := &fakeMessenger{}
	mem := memory.NewService(memory.NewMemoryHistory(), nil, zap.NewNop())
	flow := wizard.NewFlow(users, wizard.NewMemoryStaging(), wizard.NewMachine(), zap.NewNop())

	return &gateFixture{
		gate:  NewGate(users, flow, q, out, mem, 5, zap.NewNop()),
		users: users,
		queue: q,
		out:   out,
		mem:   mem,
	}
}

func (f *gateFixture) onboarded(id int64, priority int) {
	bd := birth
	f.users.Put(user.Record{
		ID:              id,
		FirstName:       "Ann",
		Priority:        priority,
		Active:          true,
		BirthData:       &bd,
		OnboardingState: user.StateComplete,
	})
}

func msg(userID int64, text string) telegram.Inbound {
	return telegram.Inbound{UserID: userID, ChatID: userID, Text: text, Timestamp: time.Now()}
}

func (f *gateFixture) depth(t *testing.T) int {
	t.Helper()
	st, err := f.queue.Status(context.Background())
	require.NoError(t, err)
	return st.Depth
}

func TestGateHigherPriorityServedFirst(t *testing.T) {
	f := newGateFixture(t)
	f.onboarded(1, 1) // A
	f.onboarded(2, 5) // B
	ctx := context.Background()

	ob, err := f.gate.Accept(ctx, msg(2, "what about my week"))
	require.NoError(t, err)
	require.Equal(t, Enqueued, ob.Kind)

	oa, err := f.gate.Accept(ctx, msg(1, "how is today"))
	require.NoError(t, err)
	require.Equal(t, Enqueued, oa.Kind)

	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	first, err := f.queue.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.UserID)
	second, err := f.queue.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.UserID)
}

func TestGateNewUserGetsDatePrompt(t *testing.T) {
	f := newGateFixture(t)

	o, err := f.gate.Accept(context.Background(), msg(3, "how is today"))
	require.NoError(t, err)
	assert.Equal(t, HandledInline, o.Kind)
	assert.Contains(t, o.Reply, "date of birth")
	assert.Equal(t, o.Reply, f.out.last().Text)
	assert.Zero(t, f.depth(t))

	rec, err := f.users.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, user.StateAwaitingDate, rec.OnboardingState)
	assert.Equal(t, 5, rec.Priority)
	assert.True(t, rec.Active)
}

func TestGateWizardToFirstQuery(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	for _, text := range []string{"hello", "1990-01-15", "10:30", "Sydney, NSW"} {
		o, err := f.gate.Accept(ctx, msg(4, text))
		require.NoError(t, err)
		require.Equal(t, HandledInline, o.Kind, text)
		assert.Zero(t, f.depth(t))
	}

	rec, err := f.users.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, user.StateComplete, rec.OnboardingState)
	assert.Equal(t, &birth, rec.BirthData)

	o, err := f.gate.Accept(ctx, msg(4, "how is today"))
	require.NoError(t, err)
	require.Equal(t, Enqueued, o.Kind)
	assert.Equal(t, birth, *o.Envelope.Payload.BirthData)
	assert.Equal(t, 1, f.depth(t))
}

func TestGateWizardValidationDoesNotEnqueue(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	_, err := f.gate.Accept(ctx, msg(5, "hi"))
	require.NoError(t, err)
	o, err := f.gate.Accept(ctx, msg(5, "3000-01-01"))
	require.NoError(t, err)
	assert.Equal(t, HandledInline, o.Kind)
	assert.Contains(t, o.Reply, "future")

	rec, _ := f.users.Get(ctx, 5)
	assert.Equal(t, user.StateAwaitingDate, rec.OnboardingState)
	assert.Zero(t, f.depth(t))
}

func TestGateRejectsInactive(t *testing.T) {
	f := newGateFixture(t)
	f.onboarded(6, 1)
	require.NoError(t, f.users.SetActive(context.Background(), 6, false))

	o, err := f.gate.Accept(context.Background(), msg(6, "how is today"))
	require.NoError(t, err)
	assert.Equal(t, Rejected, o.Kind)
	assert.Equal(t, ReasonInactive, o.Reason)
	assert.Equal(t, inactiveNotice, f.out.last().Text)
	assert.Zero(t, f.depth(t))
}

func TestGatePrioritySnapshotAtEnqueue(t *testing.T) {
	f := newGateFixture(t)
	f.onboarded(7, 5)
	ctx := context.Background()

	o, err := f.gate.Accept(ctx, msg(7, "how is today"))
	require.NoError(t, err)
	require.NoError(t, f.users.SetPriority(ctx, 7, 1))

	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	e, err := f.queue.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, o.Envelope.Sequence, e.Sequence)
	assert.Equal(t, 5, e.Priority)
}

func TestGateCommands(t *testing.T) {
	f := newGateFixture(t)
	f.onboarded(8, 5)
	ctx := context.Background()

	o, err := f.gate.Accept(ctx, msg(8, "/start"))
	require.NoError(t, err)
	assert.Contains(t, o.Reply, "Welcome back")

	o, err = f.gate.Accept(ctx, msg(8, "/info@RudieBot"))
	require.NoError(t, err)
	assert.Contains(t, o.Reply, "Sydney, NSW")

	o, err = f.gate.Accept(ctx, msg(8, "/help"))
	require.NoError(t, err)
	assert.Equal(t, textHelp, o.Reply)

	o, err = f.gate.Accept(ctx, msg(8, "/horoscope"))
	require.NoError(t, err)
	assert.Equal(t, textUnknownCommand, o.Reply)

	// commands never reach the queue
	assert.Zero(t, f.depth(t))
}

func TestGateChangeAndCancelKeepBirthData(t *testing.T) {
	f := newGateFixture(t)
	f.onboarded(9, 5)
	ctx := context.Background()

	_, err := f.gate.Accept(ctx, msg(9, "/change"))
	require.NoError(t, err)
	o, err := f.gate.Accept(ctx, msg(9, "how is today"))
	require.NoError(t, err)
	assert.Equal(t, HandledInline, o.Kind, "mid-wizard text is wizard input")

	_, err = f.gate.Accept(ctx, msg(9, "/cancel"))
	require.NoError(t, err)

	rec, err := f.users.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, user.StateComplete, rec.OnboardingState)
	assert.Equal(t, &birth, rec.BirthData)

	o, err = f.gate.Accept(ctx, msg(9, "how is today"))
	require.NoError(t, err)
	assert.Equal(t, Enqueued, o.Kind)
}

func TestGateClearWipesHistory(t *testing.T) {
	f := newGateFixture(t)
	f.onboarded(10, 5)
	ctx := context.Background()
	require.NoError(t, f.mem.RecordExchange(ctx, 10, "q", "a"))

	o, err := f.gate.Accept(ctx, msg(10, "/clear"))
	require.NoError(t, err)
	assert.Equal(t, textCleared, o.Reply)

	turns, err := f.mem.Recent(ctx, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestGateInlineSendFailureStillReportsOutcome(t *testing.T) {
	f := newGateFixture(t)
	f.out.err = errors.New("telegram down")

	o, err := f.gate.Accept(context.Background(), msg(11, "hello"))
	require.Error(t, err)
	assert.Equal(t, HandledInline, o.Kind)
	assert.Empty(t, f.out.all())
}

type failingUpsert struct {
	*user.MemoryStore
}

func (failingUpsert) Upsert(context.Context, user.Profile, int) (*user.Record, error) {
	return nil, errors.New("connection refused")
}

func TestGateStoreFailureAsksToRetry(t *testing.T) {
	f := newGateFixture(t)
	flow := wizard.NewFlow(f.users, wizard.NewMemoryStaging(), wizard.NewMachine(), zap.NewNop())
	g := NewGate(failingUpsert{f.users}, flow, f.queue, f.out, f.mem, 5, zap.NewNop())

	_, err := g.Accept(context.Background(), msg(13, "how is today"))
	require.Error(t, err)
	assert.Equal(t, []sent{{ChatID: 13, Text: textTryAgain}}, f.out.all())
	assert.Zero(t, f.depth(t))
}

func TestGateClosedQueueAsksToRetry(t *testing.T) {
	f := newGateFixture(t)
	f.onboarded(14, 5)
	f.queue.Close()

	_, err := f.gate.Accept(context.Background(), msg(14, "how is today"))
	require.ErrorIs(t, err, queue.ErrClosed)
	assert.Equal(t, []sent{{ChatID: 14, Text: textTryAgain}}, f.out.all())
}

func TestGateEmptyText(t *testing.T) {
	f := newGateFixture(t)
	_, err := f.gate.Accept(context.Background(), msg(12, "   "))
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestCommandParsing(t *testing.T) {
	cases := map[string]string{
		"/start":         "start",
		"/Change now":    "change",
		"/info@RudieBot": "info",
		"/":              "",
	}
	for in, want := range cases {
		got, ok := command(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := command("how is today")
	assert.False(t, ok)
}
