package feedsim

import "errors"

// ErrInvalidConfig means the simulation settings cannot work.
var ErrInvalidConfig = errors.New("invalid simulator config")
