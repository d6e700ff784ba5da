package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the store error taxonomy. Callers branch with
// errors.Is; the transport layer maps them to status codes.
var (
	// ErrNotFound means a referenced bucket or event id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExists means a bucket with the given id already exists. Bucket
	// creation treats this as a non-error "already there" signal.
	ErrExists = errors.New("already exists")

	// ErrBadRequest means the caller supplied a malformed payload.
	ErrBadRequest = errors.New("bad request")
)

// NoSuchBucket returns an ErrNotFound for a missing bucket.
func NoSuchBucket(bucketID string) error {
	return fmt.Errorf("no bucket named %q: %w", bucketID, ErrNotFound)
}

// NoSuchEvent returns an ErrNotFound for a missing event.
func NoSuchEvent(bucketID string, eventID int64) error {
	return fmt.Errorf("no event %d in bucket %q: %w", eventID, bucketID, ErrNotFound)
}
