package user

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("user not found")

const (
	MinPriority = 1
	MaxPriority = 10
)

// OnboardingState is where the user is in the birth-data wizard.
type OnboardingState string

const (
	StateNone          OnboardingState = "NONE"
	StateAwaitingDate  OnboardingState = "AWAITING_DATE"
	StateAwaitingTime  OnboardingState = "AWAITING_TIME"
	StateAwaitingPlace OnboardingState = "AWAITING_PLACE"
	StateComplete      OnboardingState = "COMPLETE"
)

func (s OnboardingState) Valid() bool {
	switch s {
	case StateNone, StateAwaitingDate, StateAwaitingTime, StateAwaitingPlace, StateComplete:
		return true
	}
	return false
}

// BirthData is persisted only as a whole.
type BirthData struct {
	Date  string `json:"date"`  // YYYY-MM-DD
	Time  string `json:"time"`  // HH:MM
	Place string `json:"place"` // free text
}

func (b *BirthData) Complete() bool {
	return b != nil && b.Date != "" && b.Time != "" && b.Place != ""
}

type Record struct {
	ID              int64           `json:"id"`
	FirstName       string          `json:"first_name,omitempty"`
	Username        string          `json:"username,omitempty"`
	Priority        int             `json:"priority"`
	Active          bool            `json:"active"`
	BirthData       *BirthData      `json:"birth_data,omitempty"`
	OnboardingState OnboardingState `json:"onboarding_state"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Profile holds the contact fields the front end knows about a user on first contact.
type Profile struct {
	ID        int64
	FirstName string
	Username  string
}

// Store is the user persistence port. Get returns ErrNotFound for unknown ids.
type Store interface {
	Get(ctx context.Context, id int64) (*Record, error)
	// Upsert creates the user with defaults if missing, refreshes contact fields otherwise,
	// and returns the stored record.
	Upsert(ctx context.Context, p Profile, defaultPriority int) (*Record, error)
	List(ctx context.Context) ([]Record, error)

	SetPriority(ctx context.Context, id int64, priority int) error
	SetActive(ctx context.Context, id int64, active bool) error

	SetOnboardingState(ctx context.Context, id int64, state OnboardingState) error
	// CompleteOnboarding writes all three birth fields and COMPLETE in one statement.
	CompleteOnboarding(ctx context.Context, id int64, bd BirthData) error
}

func ValidPriority(p int) bool {
	return p >= MinPriority && p <= MaxPriority
}
