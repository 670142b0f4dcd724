package storage

import "errors"

// Storage errors. Implementations return these unwrapped so callers can
// match with errors.Is regardless of backend.
var (
	// ErrNotFound is returned when a pool snapshot does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a trade_id or (pool_id, seq) is already
	// in the log. The trade log is append-only.
	ErrDuplicateKey = errors.New("duplicate key: trade log is append-only")

	// ErrInvalidInput is returned for nil records or missing identifiers.
	ErrInvalidInput = errors.New("invalid input")
)
