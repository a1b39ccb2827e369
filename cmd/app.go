package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Vovarama1992/astro-dispatch/internal/admin"
	"github.com/Vovarama1992/astro-dispatch/internal/config"
	"github.com/Vovarama1992/astro-dispatch/internal/dispatch"
	"github.com/Vovarama1992/astro-dispatch/internal/memory"
	"github.com/Vovarama1992/astro-dispatch/internal/queue"
	"github.com/Vovarama1992/astro-dispatch/internal/sink"
	"github.com/Vovarama1992/astro-dispatch/internal/storage/postgres"
	"github.com/Vovarama1992/astro-dispatch/internal/user"
	"github.com/Vovarama1992/astro-dispatch/internal/wizard"
)

// app holds the backends chosen by configuration.
type app struct {
	db  *sql.DB
	rdb *redis.Client

	users    user.Store
	queue    queue.Queue
	failed   queue.Sink
	lister   admin.FailedLister
	staging  wizard.Staging
	history  memory.History
	semantic memory.Semantic
	journal  dispatch.Journal

	closers []func() error
	logger  *zap.Logger
}

// needs lists the backends a command actually talks to.
type needs struct {
	redis    bool // wizard staging, chat history, reply journal
	semantic bool
	amqp     bool // one-shot commands never dead-letter
	listener bool
}

func serveNeeds(cfg config.Config) needs {
	return needs{
		redis:    cfg.RedisURL != "",
		semantic: cfg.Mem0URL != "",
		amqp:     cfg.FailedSink == config.SinkAMQP,
		listener: cfg.QueueBackend == config.BackendPostgres,
	}
}

// adminNeeds: the user store, the queue and the failed list, all in Postgres.
func adminNeeds() needs {
	return needs{}
}

// newApp wires storage, skipping whatever n leaves out.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger, n needs) (*app, error) {
	a := &app{logger: logger}
	if err := a.init(ctx, cfg, n); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, cfg config.Config, n needs) error {
	// --- DB ---
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		a.users = user.NewRepo(db)
	} else {
		a.logger.Warn("DATABASE_URL not set, users are kept in memory")
		a.users = user.NewMemoryStore()
	}

	// --- Redis ---
	switch {
	case n.redis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		a.rdb = redis.NewClient(opts)
		a.closers = append(a.closers, a.rdb.Close)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping error: %w", err)
		}
		a.staging = wizard.NewRedisStaging(a.rdb)
		a.history = memory.NewRedisHistory(a.rdb)
		a.journal = dispatch.NewRedisJournal(a.rdb)
	case cfg.RedisURL == "":
		a.logger.Warn("REDIS_URL not set, wizard staging, chat history and reply journal are kept in memory")
		fallthrough
	default:
		a.staging = wizard.NewMemoryStaging()
		a.history = memory.NewMemoryHistory()
		a.journal = dispatch.NewMemoryJournal()
	}

	if n.semantic {
		a.semantic = memory.NewMem0Client(cfg.Mem0URL)
	}

	// --- failed sink ---
	switch cfg.FailedSink {
	case config.BackendPostgres:
		s := sink.NewPostgres(a.db)
		a.failed, a.lister = s, s
	case config.SinkAMQP:
		if !n.amqp {
			// failed list lives in RabbitMQ; the admin service reports it as unsupported
			break
		}
		s, err := sink.DialAMQP(cfg.AMQPURL, sink.DefaultAMQPQueue)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s.Close)
		a.failed = s
	default:
		s := sink.NewMemory()
		a.failed, a.lister = s, s
	}

	// --- queue ---
	opts := queue.Options{
		MaxAttempts:  cfg.MaxAttempts,
		LeaseTimeout: cfg.LeaseTimeout,
		Sink:         a.failed,
	}
	switch cfg.QueueBackend {
	case config.BackendPostgres:
		var listener *pq.Listener
		if n.listener {
			l, err := queue.NewListener(cfg.DatabaseURL, a.logger)
			if err != nil {
				return err
			}
			listener = l
			a.closers = append(a.closers, l.Close)
		}
		a.queue = queue.NewPostgresQueue(a.db, opts, queue.PostgresOptions{
			Listener:     listener,
			PollInterval: cfg.PollInterval,
		}, a.logger)
	default:
		mq := queue.NewMemoryQueue(opts)
		a.queue = mq
		a.closers = append(a.closers, func() error { mq.Close(); return nil })
	}
	return nil
}

func (a *app) adminService() *admin.Service {
	return admin.NewService(a.queue, a.users, a.lister, a.logger)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
