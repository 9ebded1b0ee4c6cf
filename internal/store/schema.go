package store

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 1

func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := createTables(tx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return tx.Commit()
}

func createTables(tx *sql.Tx) error {
	queries := []string{
		// One row per project. configuration holds the msgpack encoded
		// configuration and workspace state.
		`CREATE TABLE IF NOT EXISTS projects (
            path TEXT PRIMARY KEY,
            configuration BLOB NOT NULL,
            updated_at INTEGER NOT NULL
        )`,

		// Host documents, removed together with their project
		`CREATE TABLE IF NOT EXISTS documents (
            project_path TEXT NOT NULL,
            file_path TEXT NOT NULL,
            target_path TEXT NOT NULL,
            kind TEXT NOT NULL,
            FOREIGN KEY (project_path) REFERENCES projects(path) ON DELETE CASCADE,
            PRIMARY KEY (project_path, file_path)
        )`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %q: %w", query, err)
		}
	}
	return nil
}
