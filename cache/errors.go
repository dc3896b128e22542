package cache

import "errors"

var (
	// ErrCacheFull is returned when an insert cannot proceed because the
	// store is at capacity and the eviction policy reclaimed nothing.
	ErrCacheFull = errors.New("cache is full")
	// ErrTxNotFound is returned for an unknown transaction id.
	ErrTxNotFound = errors.New("transaction not found")
	// ErrTxAborted is returned when operating on an aborted transaction.
	ErrTxAborted = errors.New("transaction aborted")
	// ErrTxPartiallyApplied is returned when a commit failed mid-way.
	// Steps applied before the failure are not rolled back.
	ErrTxPartiallyApplied = errors.New("transaction partially applied")
)
