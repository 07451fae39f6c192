// Package postgres stores the daily step record in PostgreSQL, one row per user.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/steptracker/internal/domain"
)

// Repository provides Postgres-backed persistence for the daily record.
type Repository struct {
	pool   *pgxpool.Pool
	userID string
}

// NewRepository constructs a Repository scoped to userID.
func NewRepository(pool *pgxpool.Pool, userID string) *Repository {
	return &Repository{pool: pool, userID: userID}
}

// Load fetches the active record. pgx.ErrNoRows maps to found=false.
func (r *Repository) Load(ctx context.Context) (domain.DailyStepRecord, bool, error) {
	const query = `SELECT step_date, steps_today FROM daily_steps WHERE user_id=$1`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return domain.DailyStepRecord{}, false, err
	}
	defer conn.Release()

	var record domain.DailyStepRecord
	if err := conn.QueryRow(ctx, query, r.userID).Scan(&record.Date, &record.Steps); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DailyStepRecord{}, false, nil
		}
		return domain.DailyStepRecord{}, false, err
	}
	return record, true, nil
}

// Save overwrites the user's row; earlier dates are replaced, never archived.
func (r *Repository) Save(ctx context.Context, record domain.DailyStepRecord) error {
	const stmt = `INSERT INTO daily_steps (user_id, step_date, steps_today, updated_at)
        VALUES ($1,$2,$3,NOW())
        ON CONFLICT (user_id) DO UPDATE SET step_date=EXCLUDED.step_date, steps_today=EXCLUDED.steps_today, updated_at=NOW()`

	_, err := r.pool.Exec(ctx, stmt, r.userID, record.Date, record.Steps)
	return err
}
