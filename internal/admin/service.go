package admin

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Vovarama1992/astro-dispatch/internal/queue"
	"github.com/Vovarama1992/astro-dispatch/internal/user"
)

var (
	ErrInvalidPriority = fmt.Errorf("priority must be between %d and %d", user.MinPriority, user.MaxPriority)
	ErrNoFailedList    = errors.New("configured failed sink cannot be listed")
)

// FailedLister is implemented by sinks that can be read back (postgres, memory).
type FailedLister interface {
	List(ctx context.Context, limit int) ([]queue.Failed, error)
}

// Service holds the operator actions shared by the HTTP surface and the CLI.
type Service struct {
	queue  queue.Queue
	users  user.Store
	failed FailedLister
	logger *zap.Logger
}

// NewService: failed may be nil when the sink is write-only (amqp).
func NewService(q queue.Queue, users user.Store, failed FailedLister, logger *zap.Logger) *Service {
	return &Service{queue: q, users: users, failed: failed, logger: logger.Named("admin")}
}

func (s *Service) QueueStatus(ctx context.Context) (queue.Status, error) {
	return s.queue.Status(ctx)
}

func (s *Service) PurgeQueue(ctx context.Context) (int, error) {
	n, err := s.queue.Purge(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Warn("queue purged", zap.Int("removed", n))
	return n, nil
}

func (s *Service) FailedEnvelopes(ctx context.Context, limit int) ([]queue.Failed, error) {
	if s.failed == nil {
		return nil, ErrNoFailedList
	}
	return s.failed.List(ctx, limit)
}

func (s *Service) ListUsers(ctx context.Context) ([]user.Record, error) {
	return s.users.List(ctx)
}

func (s *Service) GetUser(ctx context.Context, id int64) (*user.Record, error) {
	return s.users.Get(ctx, id)
}

func (s *Service) SetActive(ctx context.Context, id int64, active bool) (*user.Record, error) {
	if err := s.users.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	s.logger.Info("user activation changed", zap.Int64("user_id", id), zap.Bool("active", active))
	return s.users.Get(ctx, id)
}

// SetPriority affects only requests enqueued after the change.
func (s *Service) SetPriority(ctx context.Context, id int64, priority int) (*user.Record, error) {
	if !user.ValidPriority(priority) {
		return nil, ErrInvalidPriority
	}
	if err := s.users.SetPriority(ctx, id, priority); err != nil {
		return nil, err
	}
	s.logger.Info("user priority changed", zap.Int64("user_id", id), zap.Int("priority", priority))
	return s.users.Get(ctx, id)
}
