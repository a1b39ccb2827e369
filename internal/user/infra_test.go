package user

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userColumns = []string{
	"id", "first_name", "username", "priority", "is_active",
	"date_of_birth", "time_of_birth", "place_of_birth", "onboarding_state", "created_at",
}

func newMockRepo(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepo(db), mock
}

func TestRepoGet(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(42, "Asha", nil, 2, true, "1990-01-15", "10:30", "New Delhi, India", "COMPLETE", created))

	rec, err := repo.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, "Asha", rec.FirstName)
	assert.Equal(t, "", rec.Username)
	assert.Equal(t, 2, rec.Priority)
	assert.Equal(t, StateComplete, rec.OnboardingState)
	require.NotNil(t, rec.BirthData)
	assert.True(t, rec.BirthData.Complete())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepoUpsertNewUser(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users (id, first_name, username, priority)")).
		WithArgs(int64(9), "Ravi", "ravi", 5).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(9, "Ravi", "ravi", 5, true, nil, nil, nil, "NONE", time.Now()))

	rec, err := repo.Upsert(context.Background(), Profile{ID: 9, FirstName: "Ravi", Username: "ravi"}, 5)
	require.NoError(t, err)
	assert.Equal(t, StateNone, rec.OnboardingState)
	assert.Nil(t, rec.BirthData)
	assert.True(t, rec.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoSetPriority(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET priority = $2 WHERE id = $1")).
		WithArgs(int64(1), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetPriority(context.Background(), 1, 3))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET priority = $2 WHERE id = $1")).
		WithArgs(int64(2), 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.SetPriority(context.Background(), 2, 3), ErrNotFound)

	// out of range never reaches the database
	assert.Error(t, repo.SetPriority(context.Background(), 1, 11))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoCompleteOnboardingWritesAllFields(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("SET date_of_birth = $2, time_of_birth = $3, place_of_birth = $4, onboarding_state = $5")).
		WithArgs(int64(5), "1990-01-15", "10:30", "Pune", "COMPLETE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CompleteOnboarding(context.Background(), 5, BirthData{Date: "1990-01-15", Time: "10:30", Place: "Pune"})
	require.NoError(t, err)

	assert.Error(t, repo.CompleteOnboarding(context.Background(), 5, BirthData{Date: "1990-01-15"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
