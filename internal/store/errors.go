package store

import "errors"

var (
	// ErrNotFound is returned when a Get finds no matching row.
	ErrNotFound = errors.New("store: not found")

	// ErrMissingKey is returned when an upsert or delete is missing a
	// required key field. Never retried.
	ErrMissingKey = errors.New("store: missing key field")

	// ErrUnknownTable is returned for tables absent from the registry.
	ErrUnknownTable = errors.New("store: unknown table")
)
