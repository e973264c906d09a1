package app

import (
	"time"

	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/internal/domain/view"
	"github.com/okian/crewmap/pkg/logger"
)

// TrackerOption applies a configuration option to the Tracker.
type TrackerOption func(*Tracker)

// WithClock sets the clock used for day buckets, fading and uptime.
func WithClock(c model.Clock) TrackerOption {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLocation sets the time zone of the day bucket.
func WithLocation(loc *time.Location) TrackerOption {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithFade sets the trail fade weighting.
func WithFade(f view.Fade) TrackerOption {
	return func(t *Tracker) {
		if f.MaxAge > 0 {
			t.fade = f
		}
	}
}

// WithQueueSize bounds the reconciler event queue and the persistence queue.
func WithQueueSize(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

// WithPersistWorkers sets the number of trail persistence workers.
func WithPersistWorkers(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.persistWorkers = n
		}
	}
}

// WithUnresolvedLimit caps the devices held without a known member.
func WithUnresolvedLimit(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.unresolvedLimit = n
		}
	}
}

// WithDedupeSize caps the remembered trail point ids.
func WithDedupeSize(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.dedupeSize = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}
