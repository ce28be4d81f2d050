package stock

import "errors"

var (
	// ErrUnsupportedSite means no extraction capability serves the item's host.
	// The item counts as checked and not available.
	ErrUnsupportedSite = errors.New("unsupported site")

	// ErrExtractionFormat means an extractor returned something other than an
	// array of well-formed observations.
	ErrExtractionFormat = errors.New("malformed extraction output")

	// ErrPageLifecycle wraps failures to open, load, inject into or close a
	// page, including the per-item timeout.
	ErrPageLifecycle = errors.New("page lifecycle failure")

	// ErrHostUnavailable means pages cannot be opened at all. It is the only
	// error returned from Start; per-item errors never surface to the caller.
	ErrHostUnavailable = errors.New("page host unavailable")

	// ErrRunNotFound is returned when cancelling or reading an unknown run
	ErrRunNotFound = errors.New("run not found")
)
