package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Vovarama1992/astro-dispatch/internal/queue"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Put is idempotent on the request id: a retried move does not duplicate the row.
func (p *Postgres) Put(ctx context.Context, f queue.Failed) error {
	payload, err := json.Marshal(f.Envelope.Payload)
	if err != nil {
		return fmt.Errorf("encode failed payload: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO dispatch_failed
			(request_id, user_id, priority, sequence, payload, attempt_count, reason, enqueued_at, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO NOTHING
	`,
		f.Envelope.ID,
		f.Envelope.UserID,
		f.Envelope.Priority,
		f.Envelope.Sequence,
		payload,
		f.Envelope.AttemptCount,
		f.Reason,
		f.Envelope.EnqueuedAt,
		f.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("insert failed envelope %s: %w", f.Envelope.ID, err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, limit int) ([]queue.Failed, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT request_id, user_id, priority, sequence, payload, attempt_count, reason, enqueued_at, failed_at
		FROM dispatch_failed
		ORDER BY failed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed envelopes: %w", err)
	}
	defer rows.Close()

	var out []queue.Failed
	for rows.Next() {
		var (
			f       queue.Failed
			payload []byte
		)
		if err := rows.Scan(
			&f.Envelope.ID,
			&f.Envelope.UserID,
			&f.Envelope.Priority,
			&f.Envelope.Sequence,
			&payload,
			&f.Envelope.AttemptCount,
			&f.Reason,
			&f.Envelope.EnqueuedAt,
			&f.FailedAt,
		); err != nil {
			return nil, fmt.Errorf("list failed envelopes: %w", err)
		}
		if err := json.Unmarshal(payload, &f.Envelope.Payload); err != nil {
			return nil, fmt.Errorf("decode failed payload %s: %w", f.Envelope.ID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
