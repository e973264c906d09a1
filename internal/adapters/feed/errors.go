package feed

import "errors"

// Sentinel kinds for feed errors.
var (
	// ErrAuth means the provider rejected the service credentials.
	ErrAuth = errors.New("feed authentication failed")
	// ErrDeviceRegistration means both device creation and the duplicate lookup failed.
	ErrDeviceRegistration = errors.New("device registration failed")
	// ErrFeedFetch marks a failed position poll. It is logged, never returned.
	ErrFeedFetch = errors.New("position fetch failed")
	// ErrFeedDisconnected means the push channel used up its reconnect budget.
	ErrFeedDisconnected = errors.New("position feed disconnected")

	ErrAlreadyStreaming = errors.New("position stream already running")
	ErrStopped          = errors.New("feed client stopped")
)
