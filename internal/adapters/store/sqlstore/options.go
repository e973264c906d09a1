package sqlstore

import (
	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/pkg/logger"
)

// Publisher forwards committed changes to an external channel.
type Publisher interface {
	PublishChange(change store.Change) error
}

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithNotifier serves subscriptions from n instead of the in-process hub.
// Use it when the database itself emits notifications (postgres trigger).
func WithNotifier(n store.Notifier) Option {
	return func(s *Store) {
		if n != nil {
			s.notifier = n
			s.localPublish = false
		}
	}
}

// WithPublisher forwards every committed change to p.
func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publishers = append(s.publishers, p)
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}
