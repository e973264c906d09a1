package app

import "errors"

// Sentinel kinds for app errors.
var (
	// ErrInvalidInput means a required create or join field is missing or too long.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidInviteCode means no crew uses the given invite code.
	ErrInvalidInviteCode = errors.New("invalid invite code")
	// ErrNameTaken means the member name already exists in the crew.
	ErrNameTaken = errors.New("name already taken in this crew")
	// ErrNoSession means there is no usable local session.
	ErrNoSession = errors.New("no active session")
	// ErrInviteCodeExhausted means no free invite code was found.
	ErrInviteCodeExhausted = errors.New("could not allocate a unique invite code")
	// ErrUnsupportedNotify means the notification driver cannot serve the store driver.
	ErrUnsupportedNotify = errors.New("unsupported notification driver")
)
