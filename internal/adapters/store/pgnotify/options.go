package pgnotify

import (
	"time"

	"github.com/okian/crewmap/pkg/logger"
)

// Option applies a configuration option to the Listener.
type Option func(*Listener)

// WithReconnectInterval bounds the listener's reconnect backoff.
func WithReconnectInterval(minimum, maximum time.Duration) Option {
	return func(l *Listener) {
		if minimum > 0 && maximum >= minimum {
			l.minReconnect = minimum
			l.maxReconnect = maximum
		}
	}
}

// WithPingInterval sets how often the idle connection is checked.
func WithPingInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.pingInterval = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Listener) {
		if lg != nil {
			l.logger = lg
		}
	}
}
