package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// NotifyChannel is the LISTEN/NOTIFY channel raised on every enqueue and requeue.
const NotifyChannel = "dispatch_queue"

const reapBatch = 100

// PostgresQueue keeps envelopes in dispatch_queue. The BIGSERIAL sequence column is the
// single source of dispatch order across every process sharing the database.
type PostgresQueue struct {
	db       *sql.DB
	opts     Options
	listener *pq.Listener
	poll     time.Duration
	logger   *zap.Logger
}

type PostgresOptions struct {
	// Listener wakes Dequeue on NOTIFY; without it Dequeue polls every PollInterval.
	Listener     *pq.Listener
	PollInterval time.Duration
}

func NewPostgresQueue(db *sql.DB, opts Options, pgOpts PostgresOptions, logger *zap.Logger) *PostgresQueue {
	poll := pgOpts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &PostgresQueue{
		db:       db,
		opts:     opts.withDefaults(),
		listener: pgOpts.Listener,
		poll:     poll,
		logger:   logger.Named("queue"),
	}
}

// NewListener opens a LISTEN connection on NotifyChannel.
func NewListener(dsn string, logger *zap.Logger) (*pq.Listener, error) {
	l := pq.NewListener(dsn, time.Second, 30*time.Second, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("queue listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := l.Listen(NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	return l, nil
}

const envelopeColumns = `sequence, request_id, user_id, priority, payload, enqueued_at, attempt_count, lease_token, lease_expires_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row scanner) (*Envelope, error) {
	var (
		e          Envelope
		payload    []byte
		leaseToken sql.NullString
		leaseUntil sql.NullTime
	)
	if err := row.Scan(
		&e.Sequence,
		&e.ID,
		&e.UserID,
		&e.Priority,
		&payload,
		&e.EnqueuedAt,
		&e.AttemptCount,
		&leaseToken,
		&leaseUntil,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %d: %w", e.Sequence, err)
	}
	e.LeaseToken = leaseToken.String
	e.LeaseExpiresAt = leaseUntil.Time
	return &e, nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, env *Envelope) (*Envelope, error) {
	e := env.clone()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO dispatch_queue (request_id, user_id, priority, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING sequence, enqueued_at
	`,
		e.ID,
		e.UserID,
		e.Priority,
		payload,
	).Scan(&e.Sequence, &e.EnqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, '')`, NotifyChannel); err != nil {
		return nil, fmt.Errorf("enqueue notify: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("enqueue commit: %w", err)
	}

	e.AttemptCount = 0
	e.LeaseToken = ""
	e.LeaseExpiresAt = time.Time{}
	return e, nil
}

func (q *PostgresQueue) Dequeue(ctx context.Context) (*Envelope, error) {
	var notify <-chan *pq.Notification
	if q.listener != nil {
		notify = q.listener.Notify
	}

	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		e, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if e != nil {
			return e, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		case <-ticker.C:
		}
	}
}

// claim leases the head of the queue, or returns nil when nothing is ready.
// SKIP LOCKED keeps two workers from ever holding the same row.
func (q *PostgresQueue) claim(ctx context.Context) (*Envelope, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE dispatch_queue
		SET lease_token = $1, lease_expires_at = now() + ($2 * interval '1 millisecond')
		WHERE sequence = (
			SELECT sequence FROM dispatch_queue
			WHERE lease_token IS NULL
			ORDER BY priority, sequence
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+envelopeColumns,
		uuid.NewString(),
		q.opts.LeaseTimeout.Milliseconds(),
	)
	e, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return e, nil
}

func (q *PostgresQueue) Ack(ctx context.Context, env *Envelope) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM dispatch_queue WHERE sequence = $1 AND lease_token = $2`,
		env.Sequence, env.LeaseToken)
	if err != nil {
		return fmt.Errorf("ack %d: %w", env.Sequence, err)
	}
	return leaseHeld(res)
}

func (q *PostgresQueue) Nack(ctx context.Context, env *Envelope, retryable bool, reason string) (Disposition, error) {
	if shouldRequeue(env.AttemptCount, q.opts.MaxAttempts, retryable) {
		res, err := q.db.ExecContext(ctx, `
			UPDATE dispatch_queue
			SET lease_token = NULL, lease_expires_at = NULL, attempt_count = attempt_count + 1
			WHERE sequence = $1 AND lease_token = $2
		`, env.Sequence, env.LeaseToken)
		if err != nil {
			return 0, fmt.Errorf("nack %d: %w", env.Sequence, err)
		}
		if err := leaseHeld(res); err != nil {
			return 0, err
		}
		q.notify(ctx)
		return Requeued, nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("nack %d: %w", env.Sequence, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		DELETE FROM dispatch_queue
		WHERE sequence = $1 AND lease_token = $2
		RETURNING `+envelopeColumns,
		env.Sequence, env.LeaseToken)
	cur, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrLeaseLost
	}
	if err != nil {
		return 0, fmt.Errorf("nack %d: %w", env.Sequence, err)
	}

	// sink first: if it refuses, the rollback leaves the row leased and the reaper
	// brings it back after the lease runs out
	if err := q.putFailed(ctx, cur, reason); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("nack %d commit: %w", env.Sequence, err)
	}
	return DeadLettered, nil
}

func (q *PostgresQueue) Release(ctx context.Context, env *Envelope) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE dispatch_queue
		SET lease_token = NULL, lease_expires_at = NULL
		WHERE sequence = $1 AND lease_token = $2
	`, env.Sequence, env.LeaseToken)
	if err != nil {
		return fmt.Errorf("release %d: %w", env.Sequence, err)
	}
	if err := leaseHeld(res); err != nil {
		return err
	}
	q.notify(ctx)
	return nil
}

func (q *PostgresQueue) ReapExpired(ctx context.Context) ([]Reaped, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("reap: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+envelopeColumns+`
		FROM dispatch_queue
		WHERE lease_token IS NOT NULL AND lease_expires_at < now()
		ORDER BY priority, sequence
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, reapBatch)
	if err != nil {
		return nil, fmt.Errorf("reap: %w", err)
	}
	var expired []*Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("reap: %w", err)
		}
		expired = append(expired, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reap: %w", err)
	}
	if len(expired) == 0 {
		return nil, nil
	}

	out := make([]Reaped, 0, len(expired))
	requeued := false
	for _, e := range expired {
		if shouldRequeue(e.AttemptCount, q.opts.MaxAttempts, true) {
			if _, err := tx.ExecContext(ctx, `
				UPDATE dispatch_queue
				SET lease_token = NULL, lease_expires_at = NULL, attempt_count = attempt_count + 1
				WHERE sequence = $1
			`, e.Sequence); err != nil {
				return nil, fmt.Errorf("reap requeue %d: %w", e.Sequence, err)
			}
			requeued = true
			r := *e
			r.AttemptCount++
			r.LeaseToken = ""
			out = append(out, Reaped{Envelope: r, Disposition: Requeued})
			continue
		}

		if err := q.putFailed(ctx, e, reasonLeaseExpired); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dispatch_queue WHERE sequence = $1`, e.Sequence); err != nil {
			return nil, fmt.Errorf("reap delete %d: %w", e.Sequence, err)
		}
		r := *e
		r.AttemptCount++
		r.LeaseToken = ""
		out = append(out, Reaped{Envelope: r, Disposition: DeadLettered})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("reap commit: %w", err)
	}
	if requeued {
		q.notify(ctx)
	}
	return out, nil
}

func (q *PostgresQueue) Status(ctx context.Context) (Status, error) {
	st := Status{PerPriority: make(map[int]int)}

	rows, err := q.db.QueryContext(ctx, `
		SELECT priority, count(*), min(enqueued_at)
		FROM dispatch_queue
		WHERE lease_token IS NULL
		GROUP BY priority
		ORDER BY priority
	`)
	if err != nil {
		return Status{}, fmt.Errorf("queue status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			priority, count int
			oldest          time.Time
		)
		if err := rows.Scan(&priority, &count, &oldest); err != nil {
			return Status{}, fmt.Errorf("queue status: %w", err)
		}
		st.PerPriority[priority] = count
		st.Depth += count
		if st.OldestEnqueuedAt == nil || oldest.Before(*st.OldestEnqueuedAt) {
			t := oldest
			st.OldestEnqueuedAt = &t
		}
	}
	if err := rows.Err(); err != nil {
		return Status{}, fmt.Errorf("queue status: %w", err)
	}

	if err := q.db.QueryRowContext(ctx,
		`SELECT count(*) FROM dispatch_queue WHERE lease_token IS NOT NULL`,
	).Scan(&st.InFlight); err != nil {
		return Status{}, fmt.Errorf("queue status: %w", err)
	}
	return st, nil
}

func (q *PostgresQueue) Purge(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM dispatch_queue WHERE lease_token IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return int(n), nil
}

func (q *PostgresQueue) putFailed(ctx context.Context, e *Envelope, reason string) error {
	if q.opts.Sink == nil {
		return errors.New("no failed sink configured")
	}
	failed := Failed{Envelope: *e, Reason: reason, FailedAt: q.opts.Now()}
	failed.Envelope.AttemptCount++
	failed.Envelope.LeaseToken = ""
	if err := q.opts.Sink.Put(ctx, failed); err != nil {
		return fmt.Errorf("move envelope %s to failed sink: %w", e.ID, err)
	}
	return nil
}

func (q *PostgresQueue) notify(ctx context.Context) {
	if _, err := q.db.ExecContext(ctx, `SELECT pg_notify($1, '')`, NotifyChannel); err != nil {
		q.logger.Warn("notify after requeue", zap.Error(err))
	}
}

func leaseHeld(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
