package dispatch

import (
	"context"
	"errors"

	"github.com/Vovarama1992/astro-dispatch/internal/memory"
)

var (
	// ErrMalformed: the envelope can never be processed; it goes straight to the failed sink.
	ErrMalformed = errors.New("dispatch: malformed request")
	ErrEmptyText = errors.New("dispatch: empty message text")

	errReplyNotSent = errors.New("dispatch: inline reply not sent")

	// errWorkerPanic is retried like a crashed worker whose lease expired.
	errWorkerPanic = errors.New("dispatch: worker panic")
)

// Messenger is the outbound side of the chat transport.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) error
	SendTyping(ctx context.Context, chatID int64) error
}

// Memory is conversational memory as the gate and workers see it.
type Memory interface {
	Recent(ctx context.Context, userID int64, n int) ([]memory.Turn, error)
	Search(ctx context.Context, userID int64, query string) []string
	RecordExchange(ctx context.Context, userID int64, userText, reply string) error
	Clear(ctx context.Context, userID int64) error
}

const (
	inactiveNotice = "Your access to Rudie is currently paused. Please contact support if you think this is a mistake 🌿"
	apologyText    = "Sorry, I had trouble reading the stars for you. Please try again! 🌿"
)
