package reconcile

import "github.com/okian/crewmap/pkg/logger"

// Option applies a configuration option to the Reconciler.
type Option func(*Reconciler)

// WithPersister sets where new trail points are sent. Without one, points
// are built but dropped.
func WithPersister(p Persister) Option {
	return func(r *Reconciler) {
		if p != nil {
			r.persister = p
		}
	}
}

// WithUnresolvedLimit bounds how many unknown devices are held.
func WithUnresolvedLimit(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}
