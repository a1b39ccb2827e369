package wizard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Vovarama1992/astro-dispatch/internal/user"
)

func newFlow(t *testing.T) (*Flow, *user.MemoryStore, *MemoryStaging) {
	t.Helper()
	users := user.NewMemoryStore()
	staging := NewMemoryStaging()
	return NewFlow(users, staging, fixedMachine(), zap.NewNop()), users, staging
}

func load(t *testing.T, users *user.MemoryStore, id int64) *user.Record {
	t.Helper()
	rec, err := users.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestFlowFullRunPersistsAtomically(t *testing.T) {
	ctx := context.Background()
	flow, users, staging := newFlow(t)
	users.Put(user.Record{ID: 1, Priority: 5, Active: true, OnboardingState: user.StateNone})

	// first message of a new user only opens the wizard
	reply, err := flow.Handle(ctx, load(t, users, 1), "how is today")
	require.NoError(t, err)
	assert.Contains(t, reply, "date of birth")
	assert.Equal(t, user.StateAwaitingDate, load(t, users, 1).OnboardingState)

	for _, in := range []string{"1990-01-15", "14:30"} {
		_, err := flow.Handle(ctx, load(t, users, 1), in)
		require.NoError(t, err)
		rec := load(t, users, 1)
		assert.NotEqual(t, user.StateComplete, rec.OnboardingState)
		assert.Nil(t, rec.BirthData, "nothing persisted before completion")
	}

	staged, err := staging.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Staged{Date: "1990-01-15", Time: "14:30"}, staged)

	_, err = flow.Handle(ctx, load(t, users, 1), "New Delhi, India")
	require.NoError(t, err)

	rec := load(t, users, 1)
	assert.Equal(t, user.StateComplete, rec.OnboardingState)
	assert.Equal(t, &user.BirthData{Date: "1990-01-15", Time: "14:30", Place: "New Delhi, India"}, rec.BirthData)

	staged, err = staging.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Staged{}, staged)
}

func TestFlowInvalidInputRePrompts(t *testing.T) {
	ctx := context.Background()
	flow, users, _ := newFlow(t)
	users.Put(user.Record{ID: 2, OnboardingState: user.StateAwaitingDate})

	reply, err := flow.Handle(ctx, load(t, users, 2), "yesterday")
	require.NoError(t, err)
	assert.Contains(t, reply, "Invalid format")
	assert.Equal(t, user.StateAwaitingDate, load(t, users, 2).OnboardingState)
}

func TestFlowChangeThenCancelKeepsPersistedData(t *testing.T) {
	ctx := context.Background()
	flow, users, staging := newFlow(t)
	old := &user.BirthData{Date: "1985-05-05", Time: "05:05", Place: "Goa"}
	users.Put(user.Record{ID: 3, OnboardingState: user.StateComplete, BirthData: old})

	reply, err := flow.Begin(ctx, load(t, users, 3))
	require.NoError(t, err)
	assert.Contains(t, reply, "update")

	_, err = flow.Handle(ctx, load(t, users, 3), "1991-01-01")
	require.NoError(t, err)

	_, err = flow.Cancel(ctx, load(t, users, 3))
	require.NoError(t, err)

	rec := load(t, users, 3)
	assert.Equal(t, user.StateComplete, rec.OnboardingState)
	assert.Equal(t, old, rec.BirthData)

	staged, err := staging.Load(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, Staged{}, staged)
}

func TestFlowChangeClearsStagedFields(t *testing.T) {
	ctx := context.Background()
	flow, users, staging := newFlow(t)
	users.Put(user.Record{ID: 4, OnboardingState: user.StateAwaitingPlace})
	require.NoError(t, staging.Save(ctx, 4, Staged{Date: "1990-01-01", Time: "01:00"}))

	_, err := flow.Begin(ctx, load(t, users, 4))
	require.NoError(t, err)

	staged, err := staging.Load(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, Staged{}, staged)
	assert.Equal(t, user.StateAwaitingDate, load(t, users, 4).OnboardingState)
}

func TestFlowCancelForNewUserRevertsToNone(t *testing.T) {
	ctx := context.Background()
	flow, users, _ := newFlow(t)
	users.Put(user.Record{ID: 5, OnboardingState: user.StateAwaitingTime})

	reply, err := flow.Cancel(ctx, load(t, users, 5))
	require.NoError(t, err)
	assert.Contains(t, reply, "Cancelled")
	assert.Equal(t, user.StateNone, load(t, users, 5).OnboardingState)
}
