package store

import "errors"

var (
	// ErrNotFound is returned when a requested project doesn't exist
	ErrNotFound = errors.New("project not found")

	// ErrDatabaseClosed is returned when attempting to use a closed store
	ErrDatabaseClosed = errors.New("database is closed")
)
