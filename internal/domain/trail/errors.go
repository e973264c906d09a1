package trail

import "errors"

// ErrPersist means a trail point could not be stored. The point is lost.
var ErrPersist = errors.New("trail point persist failed")
