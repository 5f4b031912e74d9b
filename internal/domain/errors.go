package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrFillLookupFailed = errors.New("fill lookup failed")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrLockHeld         = errors.New("lock already held")
)
