package pgnotify

import "errors"

// Sentinel kinds for listener errors.
var (
	ErrAlreadyStarted = errors.New("listener already started")
)
