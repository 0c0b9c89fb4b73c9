package tracker

import "errors"

var (
	// ErrQuotaExceeded means the owner's plan has no room for another active
	// item of that kind.
	ErrQuotaExceeded = errors.New("plan quota exceeded")

	// ErrNotFound means the item (or note) does not exist for this owner.
	ErrNotFound = errors.New("item not found")

	// ErrInvalidFormat means an import payload is not a usable snapshot.
	ErrInvalidFormat = errors.New("invalid snapshot format")

	// ErrPersistence means the collection could not be read or written.
	// The operation had no effect and may be retried.
	ErrPersistence = errors.New("persistence failure")

	// ErrInvalidInput means the request itself was malformed.
	ErrInvalidInput = errors.New("invalid input")
)
