package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vovarama1992/astro-dispatch/internal/ai"
	"github.com/Vovarama1992/astro-dispatch/internal/memory"
	"github.com/Vovarama1992/astro-dispatch/internal/queue"
)

const (
	settleTimeout  = 10 * time.Second
	dequeueBackoff = time.Second
	typingEvery    = 4 * time.Second
)

type PoolConfig struct {
	Workers          int
	InferenceTimeout time.Duration
	ReapInterval     time.Duration
	HistorySize      int
}

// Pool runs a fixed number of workers, each processing one envelope at a time, so at
// most Workers inference calls are in flight.
type Pool struct {
	cfg     PoolConfig
	queue   queue.Queue
	agent   ai.Agent
	memory  Memory
	out     Messenger
	journal Journal
	logger  *zap.Logger
	now     func() time.Time
}

func NewPool(cfg PoolConfig, q queue.Queue, agent ai.Agent, mem Memory, out Messenger, journal Journal, logger *zap.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = 90 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 5 * time.Second
	}
	return &Pool{
		cfg:     cfg,
		queue:   q,
		agent:   agent,
		memory:  mem,
		out:     out,
		journal: journal,
		logger:  logger.Named("worker"),
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled. Envelopes in flight at that point are nacked or,
// failing that, picked up again once their lease expires.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			p.work(ctx, id)
			return nil
		})
	}
	g.Go(func() error {
		p.reap(ctx)
		return nil
	})

	p.logger.Info("worker pool started", zap.Int("workers", p.cfg.Workers))
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("worker", id))
	for ctx.Err() == nil {
		env, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			log.Error("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		p.process(ctx, log, env)
	}
}

// process never lets a failure escape: every outcome ends in ack, nack, release or an expiring lease.
func (p *Pool) process(ctx context.Context, log *zap.Logger, env *queue.Envelope) {
	log = log.With(
		zap.String("request_id", env.ID),
		zap.Int64("user_id", env.UserID),
		zap.Int("priority", env.Priority),
		zap.Int("attempt", env.AttemptCount+1),
	)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing", zap.Any("panic", r), zap.Stack("stack"))
			p.fail(ctx, log, env, fmt.Errorf("%w: %v", errWorkerPanic, r))
		}
	}()

	// work past the lease would race a redelivery
	leaseCtx, cancel := context.WithTimeout(ctx, p.leaseRemaining(env))
	defer cancel()

	if err := p.handle(leaseCtx, log, env); err != nil {
		if ctx.Err() != nil {
			p.release(ctx, log, env, err)
			return
		}
		p.fail(ctx, log, env, err)
		return
	}

	settleCtx, cancelSettle := settleContext(ctx)
	defer cancelSettle()
	if err := p.queue.Ack(settleCtx, env); err != nil {
		// lease expired mid-flight; the redelivery will find the journal and only re-send
		log.Warn("ack failed", zap.Error(err))
		return
	}
	log.Info("request answered", zap.Duration("took", time.Since(started)))
}

func (p *Pool) leaseRemaining(env *queue.Envelope) time.Duration {
	if env.LeaseExpiresAt.IsZero() {
		return p.cfg.InferenceTimeout + settleTimeout
	}
	return env.LeaseExpiresAt.Sub(p.now())
}

func (p *Pool) handle(ctx context.Context, log *zap.Logger, env *queue.Envelope) error {
	pl := env.Payload
	if pl.Text == "" || pl.ChatID == 0 || !pl.BirthData.Complete() {
		return fmt.Errorf("%w: missing text, chat or birth data", ErrMalformed)
	}

	entry, ok, err := p.journal.Load(ctx, env.ID)
	if err != nil {
		return err
	}

	if !ok {
		reply, err := p.infer(ctx, log, env)
		if err != nil {
			return err
		}
		entry = JournalEntry{Reply: reply}
		if err := p.journal.Save(ctx, env.ID, entry); err != nil {
			return err
		}
	} else {
		log.Info("reply already generated, skipping inference", zap.Bool("recorded", entry.Recorded))
	}

	if !entry.Recorded {
		if err := p.memory.RecordExchange(ctx, env.UserID, pl.Text, entry.Reply); err != nil {
			return fmt.Errorf("record exchange: %w", err)
		}
		entry.Recorded = true
		if err := p.journal.Save(ctx, env.ID, entry); err != nil {
			return err
		}
	}

	if err := p.out.Send(ctx, pl.ChatID, entry.Reply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func (p *Pool) infer(ctx context.Context, log *zap.Logger, env *queue.Envelope) (string, error) {
	pl := env.Payload

	stopTyping := p.keepTyping(ctx, pl.ChatID)
	defer stopTyping()

	turns, err := p.memory.Recent(ctx, env.UserID, p.cfg.HistorySize)
	if err != nil {
		log.Warn("chat history unavailable, continuing without", zap.Error(err))
	}
	memories := p.memory.Search(ctx, env.UserID, pl.Text)

	inferCtx, cancel := context.WithTimeout(ctx, p.cfg.InferenceTimeout)
	defer cancel()

	return p.agent.Respond(inferCtx, ai.Request{
		UserText: pl.Text,
		History:  toMessages(turns),
		Memories: memories,
		Profile: ai.Profile{
			FirstName:  pl.FirstName,
			BirthDate:  pl.BirthData.Date,
			BirthTime:  pl.BirthData.Time,
			BirthPlace: pl.BirthData.Place,
		},
	})
}

// keepTyping shows the typing indicator until the returned func is called.
func (p *Pool) keepTyping(ctx context.Context, chatID int64) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(typingEvery)
		defer t.Stop()
		for {
			_ = p.out.SendTyping(ctx, chatID)
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Pool) fail(ctx context.Context, log *zap.Logger, env *queue.Envelope, cause error) {
	retryable := isRetryable(cause)

	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	d, err := p.queue.Nack(settleCtx, env, retryable, cause.Error())
	if err != nil {
		log.Error("nack failed, lease will expire", zap.NamedError("cause", cause), zap.Error(err))
		return
	}

	log.Warn("request failed",
		zap.Bool("retryable", retryable),
		zap.Stringer("disposition", d),
		zap.Error(cause),
	)
	if d == queue.DeadLettered {
		p.apologize(settleCtx, log, env)
	}
}

// release hands the envelope back after shutdown interrupted it. The attempt is not
// counted: the request did not fail, the process is going away.
func (p *Pool) release(ctx context.Context, log *zap.Logger, env *queue.Envelope, cause error) {
	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	if err := p.queue.Release(settleCtx, env); err != nil {
		log.Warn("release on shutdown failed, lease will expire", zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	log.Info("request released on shutdown", zap.NamedError("cause", cause))
}

func (p *Pool) apologize(ctx context.Context, log *zap.Logger, env *queue.Envelope) {
	if env.Payload.ChatID == 0 {
		return
	}
	if err := p.out.Send(ctx, env.Payload.ChatID, apologyText); err != nil {
		log.Warn("apology not delivered", zap.Error(err))
	}
}

func (p *Pool) reap(ctx context.Context) {
	t := time.NewTicker(p.cfg.ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		reaped, err := p.queue.ReapExpired(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("reap expired leases", zap.Error(err))
		}
		for i := range reaped {
			r := reaped[i]
			log := p.logger.With(
				zap.String("request_id", r.Envelope.ID),
				zap.Int64("user_id", r.Envelope.UserID),
				zap.Int("attempts", r.Envelope.AttemptCount),
			)
			log.Warn("lease expired", zap.Stringer("disposition", r.Disposition))
			if r.Disposition == queue.DeadLettered {
				p.apologize(ctx, log, &r.Envelope)
			}
		}
	}
}

// isRetryable: permanent model rejections and malformed input are final, everything
// else (timeouts, store or transport hiccups, a crashed handler) is worth another attempt.
func isRetryable(err error) bool {
	if errors.Is(err, ErrMalformed) {
		return false
	}
	var ie *ai.InferenceError
	if errors.As(err, &ie) {
		return ie.Kind == ai.Transient
	}
	return true
}

func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func toMessages(turns []memory.Turn) []ai.Message {
	out := make([]ai.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, ai.Message{Role: t.Role, Text: t.Text})
	}
	return out
}
