// Package wizard collects birth data over several messages.
//
// The Machine is a pure transition table over user.OnboardingState; Flow applies its
// results to the user store and the staging store.
package wizard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Vovarama1992/astro-dispatch/internal/user"
)

// Staged holds fragments accepted so far but not yet persisted on the user record.
type Staged struct {
	Date  string `json:"date,omitempty"`
	Time  string `json:"time,omitempty"`
	Place string `json:"place,omitempty"`
}

// ValidationError is a rejected wizard input. Message is safe to show to the user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s", e.Field)
}

// Step is the outcome of one transition.
type Step struct {
	Next   user.OnboardingState
	Staged Staged
	Reply  string
	// Completed is set only on the transition into COMPLETE.
	Completed *user.BirthData
}

type Machine struct {
	Now func() time.Time
}

func NewMachine() Machine {
	return Machine{Now: time.Now}
}

var (
	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// Begin handles /change (and the first contact of a NONE user): staged fields are dropped.
func (m Machine) Begin(hasBirthData bool) Step {
	reply := promptDateNew
	if hasBirthData {
		reply = promptDateUpdate
	}
	return Step{Next: user.StateAwaitingDate, Reply: reply}
}

// Cancel reverts to the last persisted state. Persisted birth data is never touched.
func (m Machine) Cancel(current user.OnboardingState, persisted *user.BirthData) Step {
	fallback := user.StateNone
	if persisted.Complete() {
		fallback = user.StateComplete
	}
	switch current {
	case user.StateAwaitingDate, user.StateAwaitingTime, user.StateAwaitingPlace:
		return Step{Next: fallback, Reply: promptCancelled}
	default:
		return Step{Next: current, Reply: promptNothingToCancel}
	}
}

// Input feeds one free-text message to an AWAITING_* state. On a *ValidationError the
// returned Step keeps the state and staged fields and carries the re-prompt.
func (m Machine) Input(current user.OnboardingState, staged Staged, text string, updating bool) (Step, error) {
	text = strings.TrimSpace(text)
	stay := func(field, msg string) (Step, error) {
		return Step{Next: current, Staged: staged, Reply: msg}, &ValidationError{Field: field, Message: msg}
	}

	switch current {
	case user.StateAwaitingDate:
		if !dateRe.MatchString(text) {
			return stay("date", reasonDateFormat)
		}
		d, err := time.Parse(time.DateOnly, text)
		if err != nil {
			return stay("date", reasonDateValue)
		}
		now := m.Now()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if d.After(today) {
			return stay("date", reasonDateFuture)
		}
		return Step{
			Next:   user.StateAwaitingTime,
			Staged: Staged{Date: text},
			Reply:  fmt.Sprintf(promptTime, text),
		}, nil

	case user.StateAwaitingTime:
		match := timeRe.FindStringSubmatch(text)
		if match == nil {
			return stay("time", reasonTimeFormat)
		}
		h, _ := strconv.Atoi(match[1])
		mm, _ := strconv.Atoi(match[2])
		if h > 23 || mm > 59 {
			return stay("time", reasonTimeValue)
		}
		normalized := fmt.Sprintf("%02d:%02d", h, mm)
		return Step{
			Next:   user.StateAwaitingPlace,
			Staged: Staged{Date: staged.Date, Time: normalized},
			Reply:  fmt.Sprintf(promptPlace, normalized),
		}, nil

	case user.StateAwaitingPlace:
		if text == "" {
			return stay("place", reasonPlaceEmpty)
		}
		bd := user.BirthData{Date: staged.Date, Time: staged.Time, Place: text}
		if !bd.Complete() {
			// staging was lost underneath us; the table only allows a restart from the date
			step := m.Begin(updating)
			step.Reply = promptExpired + step.Reply
			return step, nil
		}
		tmpl := promptDone
		if updating {
			tmpl = promptUpdated
		}
		return Step{
			Next:      user.StateComplete,
			Reply:     fmt.Sprintf(tmpl, bd.Date, bd.Time, bd.Place),
			Completed: &bd,
		}, nil
	}

	return Step{}, fmt.Errorf("wizard: state %s does not take input", current)
}
