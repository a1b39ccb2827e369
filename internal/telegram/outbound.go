package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Telegram rejects longer texts.
const maxMessageLen = 4096

type BotOutbound struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewBotOutbound: rps caps outgoing calls to stay under the Bot API flood limits.
func NewBotOutbound(apiURL, token string, rps float64, logger *zap.Logger) *BotOutbound {
	if rps <= 0 {
		rps = 25
	}
	return &BotOutbound{
		baseURL: strings.TrimRight(apiURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:  logger.Named("telegram"),
	}
}

func (c *BotOutbound) Send(ctx context.Context, chatID int64, text string) error {
	for _, part := range split(text, maxMessageLen) {
		if err := c.call(ctx, "sendMessage", map[string]any{
			"chat_id": chatID,
			"text":    part,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *BotOutbound) SendTyping(ctx context.Context, chatID int64) error {
	return c.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
}

func (c *BotOutbound) call(ctx context.Context, method string, body any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/bot"+c.token+"/"+method,
		bytes.NewReader(b),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// *url.Error carries the full URL, token included
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("telegram %s: %w", method, uerr.Err)
		}
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.New(
			"telegram api error: " +
				method + " " +
				resp.Status +
				" body=" + string(respBody),
		)
	}

	c.logger.Debug("bot api call ok", zap.String("method", method))
	return nil
}

// split cuts text into chunks of at most n runes, preferring newline boundaries.
func split(text string, n int) []string {
	runes := []rune(text)
	if len(runes) <= n {
		return []string{text}
	}
	var out []string
	for len(runes) > n {
		cut := n
		for i := n; i > n/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
