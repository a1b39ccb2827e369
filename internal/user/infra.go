package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) Store {
	return &repo{db: db}
}

const selectColumns = `id, first_name, username, priority, is_active,
	date_of_birth, time_of_birth, place_of_birth, onboarding_state, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                  Record
		firstName, username  sql.NullString
		bDate, bTime, bPlace sql.NullString
		state                string
	)
	if err := row.Scan(
		&rec.ID,
		&firstName,
		&username,
		&rec.Priority,
		&rec.Active,
		&bDate,
		&bTime,
		&bPlace,
		&state,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.FirstName = firstName.String
	rec.Username = username.String
	rec.OnboardingState = OnboardingState(state)

	bd := BirthData{Date: bDate.String, Time: bTime.String, Place: bPlace.String}
	if bd.Date != "" || bd.Time != "" || bd.Place != "" {
		rec.BirthData = &bd
	}
	return &rec, nil
}

func (r *repo) Get(ctx context.Context, id int64) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return rec, nil
}

func (r *repo) Upsert(ctx context.Context, p Profile, defaultPriority int) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, first_name, username, priority)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), users.first_name),
			username = COALESCE(NULLIF(EXCLUDED.username, ''), users.username)
		RETURNING `+selectColumns,
		p.ID,
		p.FirstName,
		p.Username,
		defaultPriority,
	)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user %d: %w", p.ID, err)
	}
	return rec, nil
}

func (r *repo) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM users ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *repo) SetPriority(ctx context.Context, id int64, priority int) error {
	if !ValidPriority(priority) {
		return fmt.Errorf("priority must be between %d and %d, got %d", MinPriority, MaxPriority, priority)
	}
	return r.exec(ctx, id, `UPDATE users SET priority = $2 WHERE id = $1`, id, priority)
}

func (r *repo) SetActive(ctx context.Context, id int64, active bool) error {
	return r.exec(ctx, id, `UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
}

func (r *repo) SetOnboardingState(ctx context.Context, id int64, state OnboardingState) error {
	if !state.Valid() {
		return fmt.Errorf("invalid onboarding state %q", state)
	}
	return r.exec(ctx, id, `UPDATE users SET onboarding_state = $2 WHERE id = $1`, id, string(state))
}

func (r *repo) CompleteOnboarding(ctx context.Context, id int64, bd BirthData) error {
	if !bd.Complete() {
		return errors.New("birth data is incomplete")
	}
	return r.exec(ctx, id, `
		UPDATE users
		SET date_of_birth = $2, time_of_birth = $3, place_of_birth = $4, onboarding_state = $5
		WHERE id = $1
	`,
		id,
		bd.Date,
		bd.Time,
		bd.Place,
		string(StateComplete),
	)
}

func (r *repo) exec(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
