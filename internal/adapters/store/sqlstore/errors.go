package sqlstore

import "errors"

// Sentinel kinds for sqlstore errors.
var (
	ErrUnsupportedDialect = errors.New("unsupported sql dialect")
)
