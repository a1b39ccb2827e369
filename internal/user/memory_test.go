package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpsertKeepsExistingFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec, err := s.Upsert(ctx, Profile{ID: 1, FirstName: "Mira"}, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Priority)
	assert.True(t, rec.Active)
	assert.Equal(t, StateNone, rec.OnboardingState)

	require.NoError(t, s.SetPriority(ctx, 1, 1))
	require.NoError(t, s.SetActive(ctx, 1, false))

	rec, err = s.Upsert(ctx, Profile{ID: 1, Username: "mira"}, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Priority)
	assert.False(t, rec.Active)
	assert.Equal(t, "Mira", rec.FirstName)
	assert.Equal(t, "mira", rec.Username)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Put(Record{ID: 3, Priority: 5, Active: true, OnboardingState: StateNone})
	require.NoError(t, s.CompleteOnboarding(ctx, 3, BirthData{Date: "2000-02-02", Time: "01:02", Place: "Goa"}))

	rec, err := s.Get(ctx, 3)
	require.NoError(t, err)
	rec.BirthData.Place = "changed"

	again, err := s.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Goa", again.BirthData.Place)
	assert.Equal(t, StateComplete, again.OnboardingState)
}

func TestMemoryStoreUnknownUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetActive(ctx, 99, true), ErrNotFound)
	assert.Error(t, s.SetPriority(ctx, 99, 0))
}

func TestMemoryStoreListOrdersByPriority(t *testing.T) {
	s := NewMemoryStore()
	s.Put(Record{ID: 2, Priority: 5})
	s.Put(Record{ID: 1, Priority: 5})
	s.Put(Record{ID: 3, Priority: 1})

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int64{3, 1, 2}, []int64{list[0].ID, list[1].ID, list[2].ID})
}
