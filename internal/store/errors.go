package store

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrReferentialIntegrity is returned when a child row references a
	// parent that has not been upserted yet. The orchestrator must write
	// parents before children; hitting this aborts the current page.
	ErrReferentialIntegrity = errors.New("referenced parent entity missing")

	// ErrUnknownEntityKind is returned for embedding operations on a kind
	// without an embedding column.
	ErrUnknownEntityKind = errors.New("unknown entity kind")
)
