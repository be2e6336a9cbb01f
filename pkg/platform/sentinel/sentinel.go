package sentinel

import "errors"

// Sentinel dependency errors. Dependencies return these (optionally wrapped)
// so callers can classify failures without knowing the backing technology.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("unavailable")
)
