package telegram

import (
	"context"
	"time"
)

// Inbound is one text message from a user.
type Inbound struct {
	UserID    int64
	ChatID    int64
	MessageID int64
	Text      string
	FirstName string
	Username  string
	Timestamp time.Time
}

// MessageHandler is registered via Handler.OnMessage.
type MessageHandler func(ctx context.Context, in Inbound) error

// Outbound sends to Telegram.
type Outbound interface {
	Send(ctx context.Context, chatID int64, text string) error
	SendTyping(ctx context.Context, chatID int64) error
}

// update is the subset of the Bot API Update object the bot reads.
type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
	From      *struct {
		ID        int64  `json:"id"`
		IsBot     bool   `json:"is_bot"`
		FirstName string `json:"first_name"`
		Username  string `json:"username"`
	} `json:"from"`
	Chat struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	} `json:"chat"`
}
