package model

import "errors"

// Sentinel errors for the store-wide error taxonomy. Callers discriminate
// with errors.Is; eris wrapping preserves the chain.
var (
	// ErrValidation marks malformed registry input, rejected before any write.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown feature, feature set, or entity.
	ErrNotFound = errors.New("not found")

	// ErrStaleWrite marks an online-sync fact older than the value already
	// stored for that entity and feature. It is skipped, not surfaced.
	ErrStaleWrite = errors.New("stale write")

	// ErrIncompleteCoverage marks a requested feature with no fact at or
	// before the requested timestamp. Non-fatal; recorded on the output.
	ErrIncompleteCoverage = errors.New("incomplete feature coverage")
)
