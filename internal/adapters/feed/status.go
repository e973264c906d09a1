package feed

import "fmt"

// statusError is a non-2xx provider response.
type statusError struct {
	method string
	path   string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.method, e.path, e.code, e.body)
}

// duplicateError means the provider refused a create because uniqueId exists.
type duplicateError struct {
	uniqueID string
	cause    error
}

func (e *duplicateError) Error() string {
	return fmt.Sprintf("device %s already exists: %v", e.uniqueID, e.cause)
}

func (e *duplicateError) Unwrap() error { return e.cause }
