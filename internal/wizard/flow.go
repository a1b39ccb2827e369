package wizard

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Vovarama1992/astro-dispatch/internal/user"
)

// Flow applies Machine transitions to persisted state. Every method returns the reply
// to send inline; the caller decides how to deliver it.
type Flow struct {
	users   user.Store
	staging Staging
	machine Machine
	logger  *zap.Logger
}

func NewFlow(users user.Store, staging Staging, machine Machine, logger *zap.Logger) *Flow {
	return &Flow{
		users:   users,
		staging: staging,
		machine: machine,
		logger:  logger.Named("wizard"),
	}
}

// Begin (re)starts the wizard at AWAITING_DATE.
func (f *Flow) Begin(ctx context.Context, rec *user.Record) (string, error) {
	if err := f.staging.Clear(ctx, rec.ID); err != nil {
		return "", err
	}
	step := f.machine.Begin(rec.BirthData.Complete())
	if err := f.users.SetOnboardingState(ctx, rec.ID, step.Next); err != nil {
		return "", fmt.Errorf("begin wizard: %w", err)
	}
	f.logger.Info("wizard started", zap.Int64("user_id", rec.ID), zap.String("from", string(rec.OnboardingState)))
	rec.OnboardingState = step.Next
	return step.Reply, nil
}

func (f *Flow) Cancel(ctx context.Context, rec *user.Record) (string, error) {
	step := f.machine.Cancel(rec.OnboardingState, rec.BirthData)
	if step.Next == rec.OnboardingState {
		return step.Reply, nil
	}
	if err := f.staging.Clear(ctx, rec.ID); err != nil {
		return "", err
	}
	if err := f.users.SetOnboardingState(ctx, rec.ID, step.Next); err != nil {
		return "", fmt.Errorf("cancel wizard: %w", err)
	}
	f.logger.Info("wizard cancelled", zap.Int64("user_id", rec.ID), zap.String("reverted_to", string(step.Next)))
	rec.OnboardingState = step.Next
	return step.Reply, nil
}

// Handle consumes text as wizard input. A NONE user is moved into the wizard and the
// text itself is not treated as an answer.
func (f *Flow) Handle(ctx context.Context, rec *user.Record, text string) (string, error) {
	switch rec.OnboardingState {
	case user.StateNone, "":
		return f.Begin(ctx, rec)
	case user.StateComplete:
		return "", errors.New("wizard: user already onboarded")
	}

	staged, err := f.staging.Load(ctx, rec.ID)
	if err != nil {
		return "", err
	}

	step, err := f.machine.Input(rec.OnboardingState, staged, text, rec.BirthData.Complete())
	var verr *ValidationError
	if errors.As(err, &verr) {
		f.logger.Debug("wizard input rejected", zap.Int64("user_id", rec.ID), zap.String("field", verr.Field))
		return step.Reply, nil
	}
	if err != nil {
		return "", err
	}

	if step.Completed != nil {
		if err := f.users.CompleteOnboarding(ctx, rec.ID, *step.Completed); err != nil {
			return "", fmt.Errorf("complete onboarding: %w", err)
		}
		if err := f.staging.Clear(ctx, rec.ID); err != nil {
			f.logger.Warn("clear staging after completion", zap.Int64("user_id", rec.ID), zap.Error(err))
		}
		f.logger.Info("birth details saved", zap.Int64("user_id", rec.ID))
		rec.BirthData = step.Completed
		rec.OnboardingState = user.StateComplete
		return step.Reply, nil
	}

	if step.Next == user.StateAwaitingDate {
		if err := f.staging.Clear(ctx, rec.ID); err != nil {
			return "", err
		}
	} else if err := f.staging.Save(ctx, rec.ID, step.Staged); err != nil {
		return "", err
	}
	if err := f.users.SetOnboardingState(ctx, rec.ID, step.Next); err != nil {
		return "", fmt.Errorf("advance wizard: %w", err)
	}
	rec.OnboardingState = step.Next
	return step.Reply, nil
}
