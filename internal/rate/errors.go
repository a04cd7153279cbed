package rate

import "errors"

var (
	// ErrStoreUnavailable indicates the coordination store could not be reached.
	ErrStoreUnavailable = errors.New("rate store unavailable")
)
