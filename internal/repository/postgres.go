package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atinyakov/ShareKeeper/internal/models"
)

// PostgresShareRepository stores share histories in PostgreSQL.
// Every method runs in its own transaction; the cursor row of a key is
// locked for the duration of a read or patch.
type PostgresShareRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresShareRepository creates a repository on top of db.
// db must be a valid connection to a PostgreSQL instance with the schema
// created by db.InitPostgres.
func NewPostgresShareRepository(db *sql.DB) *PostgresShareRepository {
	return &PostgresShareRepository{DB: db}
}

// Set replaces the history of key with [value] and rewinds its cursor.
func (s *PostgresShareRepository) Set(ctx context.Context, key, value uint32) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO share_cursor (owner_key, hits) VALUES ($1, 0)
		ON CONFLICT (owner_key) DO UPDATE SET hits = 0
	`, int64(key)); err != nil {
		return fmt.Errorf("Set failed: reset cursor: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM share_history WHERE owner_key = $1`, int64(key)); err != nil {
		return fmt.Errorf("Set failed: drop history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO share_history (owner_key, version, value) VALUES ($1, 0, $2)
	`, int64(key), int64(value)); err != nil {
		return fmt.Errorf("Set failed: insert share: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns the entry at the cursor and advances the cursor by one.
// It reports false for an unknown key or an exhausted history.
func (s *PostgresShareRepository) Get(ctx context.Context, key uint32) (uint32, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var hits int64
	err = tx.QueryRowContext(ctx, `
		SELECT hits FROM share_cursor WHERE owner_key = $1 FOR UPDATE
	`, int64(key)).Scan(&hits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("Get failed: read cursor: %w", err)
	}

	var value int64
	err = tx.QueryRowContext(ctx, `
		SELECT value FROM share_history WHERE owner_key = $1 AND version = $2
	`, int64(key), hits).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("Get failed: read share: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE share_cursor SET hits = hits + 1 WHERE owner_key = $1
	`, int64(key)); err != nil {
		return 0, false, fmt.Errorf("Get failed: advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit: %w", err)
	}
	return uint32(value), true, nil
}

// Patch appends last(history) ^ mask. Unknown keys are left alone.
func (s *PostgresShareRepository) Patch(ctx context.Context, key, mask uint32) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var hits int64
	err = tx.QueryRowContext(ctx, `
		SELECT hits FROM share_cursor WHERE owner_key = $1 FOR UPDATE
	`, int64(key)).Scan(&hits)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("Patch failed: lock cursor: %w", err)
	}

	var version, last int64
	err = tx.QueryRowContext(ctx, `
		SELECT version, value FROM share_history WHERE owner_key = $1 ORDER BY version DESC LIMIT 1
	`, int64(key)).Scan(&version, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("Patch failed: read latest: %w", err)
	}

	next := uint32(last) ^ mask
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO share_history (owner_key, version, value) VALUES ($1, $2, $3)
	`, int64(key), version+1, int64(next)); err != nil {
		return fmt.Errorf("Patch failed: append share: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Inspect reports the size, cursor and latest entry of a key's history.
func (s *PostgresShareRepository) Inspect(ctx context.Context, key uint32) (models.ShareState, bool, error) {
	var hits int64
	err := s.DB.QueryRowContext(ctx, `
		SELECT hits FROM share_cursor WHERE owner_key = $1
	`, int64(key)).Scan(&hits)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ShareState{}, false, nil
	}
	if err != nil {
		return models.ShareState{}, false, fmt.Errorf("Inspect failed: %w", err)
	}

	var version, last int64
	err = s.DB.QueryRowContext(ctx, `
		SELECT version, value FROM share_history WHERE owner_key = $1 ORDER BY version DESC LIMIT 1
	`, int64(key)).Scan(&version, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ShareState{}, false, nil
	}
	if err != nil {
		return models.ShareState{}, false, fmt.Errorf("Inspect failed: %w", err)
	}

	return models.ShareState{
		Versions: int(version) + 1,
		Cursor:   int(hits),
		Latest:   uint32(last),
	}, true, nil
}

// Count returns the number of stored keys.
func (s *PostgresShareRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM share_cursor`).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count failed: %w", err)
	}
	return n, nil
}
