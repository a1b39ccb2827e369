package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

type Handler struct {
	secret string
	logger *zap.Logger

	mu      sync.RWMutex
	handler MessageHandler
}

func NewHandler(secret string, logger *zap.Logger) *Handler {
	return &Handler{secret: secret, logger: logger.Named("telegram")}
}

// OnMessage registers the callback for inbound text messages. Last registration wins.
func (h *Handler) OnMessage(fn MessageHandler) {
	h.mu.Lock()
	h.handler = fn
	h.mu.Unlock()
}

// HandleWebhook is the Telegram update endpoint.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			http.Error(w, "forbidden", http.StatusUnauthorized)
			return
		}
	}

	var upd update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	in, ok := toInbound(upd)
	if !ok {
		// edits, stickers, channel posts: nothing to do
		w.WriteHeader(http.StatusOK)
		return
	}

	h.mu.RLock()
	fn := h.handler
	h.mu.RUnlock()

	if fn == nil {
		h.logger.Warn("no message handler registered, dropping update", zap.Int64("update_id", upd.UpdateID))
	} else if err := fn(r.Context(), in); err != nil {
		h.logger.Error("message handling failed",
			zap.Int64("update_id", upd.UpdateID),
			zap.Int64("user_id", in.UserID),
			zap.Error(err),
		)
	}

	// always ACK, otherwise Telegram keeps redelivering the update
	w.WriteHeader(http.StatusOK)
}

func toInbound(upd update) (Inbound, bool) {
	m := upd.Message
	if m == nil || m.From == nil || m.From.IsBot {
		return Inbound{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return Inbound{}, false
	}
	return Inbound{
		UserID:    m.From.ID,
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Text:      text,
		FirstName: m.From.FirstName,
		Username:  m.From.Username,
		Timestamp: time.Unix(m.Date, 0).UTC(),
	}, true
}
