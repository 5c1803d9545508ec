// Package media defines the domain types shared across the pipeline:
// MediaFile, Batch, Duplicate, LogEntry, their status enums, and the
// sentinel error taxonomy every component reports through.
package media

import "errors"

// Sentinel errors. Components wrap these with fmt.Errorf("...: %w", Err...)
// so callers can still errors.Is/errors.As against the taxonomy in spec §7.
var (
	// ErrConfig marks invalid or missing configuration. Fatal to startup.
	ErrConfig = errors.New("media: invalid configuration")

	// ErrSchema marks a local store schema that cannot be reconciled.
	ErrSchema = errors.New("media: incompatible store schema")

	// ErrAuth marks a source or destination authentication failure.
	ErrAuth = errors.New("media: authentication failed")

	// ErrSelectorNotFound marks a failed upload control lookup.
	ErrSelectorNotFound = errors.New("media: upload selector not found")

	// ErrUploadTimeout marks an upload attempt that exceeded its deadline.
	ErrUploadTimeout = errors.New("media: upload timed out")

	// ErrSyncTimeout marks a sync-daemon wait that exceeded its deadline.
	ErrSyncTimeout = errors.New("media: sync wait timed out")

	// ErrRemoteUnavailable marks a mirror that cannot reach its remote store.
	ErrRemoteUnavailable = errors.New("media: remote store unavailable")

	// ErrIO marks a filesystem read/write failure.
	ErrIO = errors.New("media: filesystem error")

	// ErrReentrant marks an illegal concurrent write to the store.
	ErrReentrant = errors.New("media: reentrant store write")

	// ErrNotFound marks a lookup that found no matching row.
	ErrNotFound = errors.New("media: not found")

	// ErrInvalidTransition marks an illegal file or batch status transition.
	ErrInvalidTransition = errors.New("media: invalid status transition")
)
