package memory

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Service is the conversational memory store the workers use: chat history plus
// optional semantic memory.
type Service struct {
	history  History
	semantic Semantic
	logger   *zap.Logger
	now      func() time.Time
}

// NewService: semantic may be nil when no mem0 service is configured.
func NewService(history History, semantic Semantic, logger *zap.Logger) *Service {
	return &Service{
		history:  history,
		semantic: semantic,
		logger:   logger.Named("memory"),
		now:      time.Now,
	}
}

func (s *Service) Recent(ctx context.Context, userID int64, n int) ([]Turn, error) {
	return s.history.Recent(ctx, userID, n)
}

// Search never fails the caller: a broken memory service only means no snippets.
func (s *Service) Search(ctx context.Context, userID int64, query string) []string {
	if s.semantic == nil {
		return nil
	}
	out, err := s.semantic.Search(ctx, userID, query)
	if err != nil {
		s.logger.Warn("memory search failed, continuing without", zap.Int64("user_id", userID), zap.Error(err))
		return nil
	}
	return out
}

// RecordExchange appends both sides of an answered question to the history in one
// write and feeds the semantic memory. Semantic failures are logged, history failures
// returned.
func (s *Service) RecordExchange(ctx context.Context, userID int64, userText, reply string) error {
	now := s.now()
	if err := s.history.Append(ctx, userID,
		Turn{Role: RoleUser, Text: userText, At: now},
		Turn{Role: RoleAssistant, Text: reply, At: now},
	); err != nil {
		return err
	}
	if s.semantic != nil {
		if err := s.semantic.Remember(ctx, userID, userText, reply); err != nil {
			s.logger.Warn("failed to add memory", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) Clear(ctx context.Context, userID int64) error {
	err := s.history.Clear(ctx, userID)
	if s.semantic != nil {
		err = errors.Join(err, s.semantic.Clear(ctx, userID))
	}
	return err
}
