package models

import "errors"

// Error kinds shared by every pipeline component. Callers branch on these
// with errors.Is; components wrap them with fmt.Errorf("...: %w", ...).
var (
	// ErrDurability means the chain append or encrypted store failed and the
	// event was not logged.
	ErrDurability = errors.New("durability failure")

	// ErrIntegrity means a hash, signature, linkage or authentication tag did
	// not verify, or replicas disagree without a majority.
	ErrIntegrity = errors.New("integrity violation")

	// ErrNotFound means the requested record or object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBackendUnavailable means a single storage, notification or SIEM
	// backend operation failed.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrConfiguration covers invalid rules, unknown key versions and
	// malformed recipients.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrRateLimited is a deliberate drop, not a failure.
	ErrRateLimited = errors.New("rate limited")

	// ErrQueueFull is returned when a bounded work queue cannot accept more items.
	ErrQueueFull = errors.New("queue full")

	// ErrClosed is returned by components that have been stopped.
	ErrClosed = errors.New("component closed")
)
