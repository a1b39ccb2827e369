package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Vovarama1992/astro-dispatch/internal/queue"
	"github.com/Vovarama1992/astro-dispatch/internal/telegram"
	"github.com/Vovarama1992/astro-dispatch/internal/user"
	"github.com/Vovarama1992/astro-dispatch/internal/wizard"
)

type OutcomeKind int

const (
	Rejected OutcomeKind = iota + 1
	HandledInline
	Enqueued
)

func (k OutcomeKind) String() string {
	switch k {
	case Rejected:
		return "rejected"
	case HandledInline:
		return "handled_inline"
	case Enqueued:
		return "enqueued"
	}
	return "unknown"
}

const ReasonInactive = "INACTIVE"

// Outcome of Gate.Accept. Reply is set for Rejected and HandledInline, Envelope for Enqueued.
type Outcome struct {
	Kind     OutcomeKind
	Reason   string
	Reply    string
	Envelope *queue.Envelope
}

// Gate is the ingress: it decides per inbound message whether to reject it, answer it
// inline (commands, wizard turns) or enqueue it for a worker.
type Gate struct {
	users           user.Store
	flow            *wizard.Flow
	queue           queue.Queue
	out             Messenger
	memory          Memory
	defaultPriority int
	logger          *zap.Logger
}

func NewGate(
	users user.Store,
	flow *wizard.Flow,
	q queue.Queue,
	out Messenger,
	mem Memory,
	defaultPriority int,
	logger *zap.Logger,
) *Gate {
	return &Gate{
		users:           users,
		flow:            flow,
		queue:           q,
		out:             out,
		memory:          mem,
		defaultPriority: defaultPriority,
		logger:          logger.Named("gate"),
	}
}

// OnMessage adapts Accept to the webhook callback.
func (g *Gate) OnMessage(ctx context.Context, in telegram.Inbound) error {
	_, err := g.Accept(ctx, in)
	return err
}

// Accept never leaves the user without an answer: when the message cannot be taken
// (store or queue down) the user is asked to try again.
func (g *Gate) Accept(ctx context.Context, in telegram.Inbound) (Outcome, error) {
	o, err := g.accept(ctx, in)
	if err == nil || errors.Is(err, ErrEmptyText) || errors.Is(err, errReplyNotSent) {
		return o, err
	}
	if sendErr := g.out.Send(ctx, in.ChatID, textTryAgain); sendErr != nil {
		g.logger.Warn("try-again notice not delivered", zap.Int64("user_id", in.UserID), zap.Error(sendErr))
	}
	return o, err
}

func (g *Gate) accept(ctx context.Context, in telegram.Inbound) (Outcome, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Outcome{}, ErrEmptyText
	}

	rec, err := g.users.Upsert(ctx, user.Profile{
		ID:        in.UserID,
		FirstName: in.FirstName,
		Username:  in.Username,
	}, g.defaultPriority)
	if err != nil {
		return Outcome{}, fmt.Errorf("load user %d: %w", in.UserID, err)
	}

	log := g.logger.With(zap.Int64("user_id", rec.ID))

	if !rec.Active {
		log.Info("rejected inactive user")
		return g.reply(ctx, in.ChatID, Outcome{Kind: Rejected, Reason: ReasonInactive, Reply: inactiveNotice})
	}

	if cmd, ok := command(text); ok {
		reply, err := g.runCommand(ctx, rec, cmd)
		if err != nil {
			return Outcome{}, fmt.Errorf("command %s: %w", cmd, err)
		}
		log.Debug("command handled", zap.String("command", cmd))
		return g.reply(ctx, in.ChatID, Outcome{Kind: HandledInline, Reply: reply})
	}

	if !onboarded(rec) {
		var reply string
		if rec.OnboardingState == user.StateComplete {
			// COMPLETE without full birth data: start over rather than enqueue
			log.Warn("complete state without birth data, restarting wizard")
			reply, err = g.flow.Begin(ctx, rec)
		} else {
			reply, err = g.flow.Handle(ctx, rec, text)
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("wizard: %w", err)
		}
		return g.reply(ctx, in.ChatID, Outcome{Kind: HandledInline, Reply: reply})
	}

	bd := *rec.BirthData
	env, err := g.queue.Enqueue(ctx, &queue.Envelope{
		UserID:   rec.ID,
		Priority: rec.Priority,
		Payload: queue.Payload{
			Text:      text,
			ChatID:    in.ChatID,
			MessageID: in.MessageID,
			SentAt:    in.Timestamp,
			FirstName: rec.FirstName,
			BirthData: &bd,
		},
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("enqueue: %w", err)
	}

	log.Info("request enqueued",
		zap.String("request_id", env.ID),
		zap.Int("priority", env.Priority),
		zap.Int64("sequence", env.Sequence),
	)
	return Outcome{Kind: Enqueued, Envelope: env}, nil
}

func (g *Gate) reply(ctx context.Context, chatID int64, o Outcome) (Outcome, error) {
	if err := g.out.Send(ctx, chatID, o.Reply); err != nil {
		return o, fmt.Errorf("%w: %w", errReplyNotSent, err)
	}
	return o, nil
}

func (g *Gate) runCommand(ctx context.Context, rec *user.Record, cmd string) (string, error) {
	switch cmd {
	case "start":
		if onboarded(rec) {
			return fmt.Sprintf(textWelcomeBack, displayName(rec)), nil
		}
		return g.flow.Begin(ctx, rec)
	case "help":
		return textHelp, nil
	case "info":
		if !rec.BirthData.Complete() {
			return textNoInfo, nil
		}
		return fmt.Sprintf(textInfo, rec.BirthData.Date, rec.BirthData.Time, rec.BirthData.Place), nil
	case "change":
		return g.flow.Begin(ctx, rec)
	case "cancel":
		return g.flow.Cancel(ctx, rec)
	case "clear":
		if err := g.memory.Clear(ctx, rec.ID); err != nil {
			return "", err
		}
		return textCleared, nil
	default:
		return textUnknownCommand, nil
	}
}

func onboarded(rec *user.Record) bool {
	return rec.OnboardingState == user.StateComplete && rec.BirthData.Complete()
}

// command extracts "change" from "/change", "/change@RudieBot" or "/change now".
func command(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text[1:])
	if len(name) == 0 {
		return "", true
	}
	cmd, _, _ := strings.Cut(name[0], "@")
	return strings.ToLower(cmd), true
}

func displayName(rec *user.Record) string {
	if rec.FirstName != "" {
		return rec.FirstName
	}
	return "there"
}
