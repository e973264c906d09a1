package store

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("duplicate record")
	ErrMalformedChange = errors.New("malformed change notification")
	ErrClosed          = errors.New("store closed")
)
