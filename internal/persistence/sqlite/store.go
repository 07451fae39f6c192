// Package sqlite stores the daily step record as key/value preferences in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "modernc.org/sqlite"

	"example.com/steptracker/internal/domain"
)

// Store implements domain.StepRepository on a preferences table.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at path. Use ":memory:" for a throwaway store.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS preferences (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Load reads the date and steps keys. A missing date means nothing was stored yet.
func (s *Store) Load(ctx context.Context) (domain.DailyStepRecord, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, value FROM preferences WHERE name IN (?, ?)",
		domain.KeyDate, domain.KeyStepsToday,
	)
	if err != nil {
		return domain.DailyStepRecord{}, false, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var (
		record    domain.DailyStepRecord
		foundDate bool
	)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return domain.DailyStepRecord{}, false, fmt.Errorf("scan preference: %w", err)
		}
		switch name {
		case domain.KeyDate:
			record.Date = value
			foundDate = true
		case domain.KeyStepsToday:
			steps, convErr := strconv.Atoi(value)
			if convErr != nil {
				return domain.DailyStepRecord{}, false, fmt.Errorf("parse %s: %w", domain.KeyStepsToday, convErr)
			}
			record.Steps = steps
		}
	}
	if err := rows.Err(); err != nil {
		return domain.DailyStepRecord{}, false, err
	}
	return record, foundDate, nil
}

// Save writes both keys in one transaction so readers never see a date paired with another day's steps.
func (s *Store) Save(ctx context.Context, record domain.DailyStepRecord) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const upsert = `INSERT INTO preferences (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`
	if _, err = tx.ExecContext(ctx, upsert, domain.KeyStepsToday, strconv.Itoa(record.Steps)); err != nil {
		return fmt.Errorf("write %s: %w", domain.KeyStepsToday, err)
	}
	if _, err = tx.ExecContext(ctx, upsert, domain.KeyDate, record.Date); err != nil {
		return fmt.Errorf("write %s: %w", domain.KeyDate, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return errors.New("store not open")
	}
	return s.db.Close()
}
