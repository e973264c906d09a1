package natsnotify

import (
	"strings"

	"github.com/okian/crewmap/pkg/logger"
)

// Option applies a configuration option to the Bus.
type Option func(*Bus)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(b *Bus) {
		if prefix != "" {
			b.prefix = strings.TrimSuffix(prefix, ".")
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}
