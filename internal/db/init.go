// Package db bootstraps the persistence used by a storage peer: the
// PostgreSQL schema for share histories and the snapshot file of the
// in-memory store.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS share_cursor (
    owner_key BIGINT PRIMARY KEY,
    hits BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS share_history (
    owner_key BIGINT NOT NULL REFERENCES share_cursor(owner_key) ON DELETE CASCADE,
    version BIGINT NOT NULL,
    value BIGINT NOT NULL,
    PRIMARY KEY (owner_key, version)
);
`

// InitPostgres opens dsn, checks connectivity and creates the share tables.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// CreateSchema creates the share_cursor and share_history tables if they do
// not exist yet.
func CreateSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
