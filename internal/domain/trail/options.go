package trail

import (
	"time"

	"github.com/okian/crewmap/internal/domain/dedupe"
	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/pkg/logger"
)

// Option applies a configuration option to the Sync.
type Option func(*Sync)

// WithClock sets the clock used for day buckets.
func WithClock(c model.Clock) Option {
	return func(s *Sync) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLocation sets the time zone day buckets are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Sync) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithDeduper sets the deduper that tracks applied point ids.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Sync) {
		if d != nil {
			s.deduper = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sync) {
		if l != nil {
			s.logger = l
		}
	}
}
