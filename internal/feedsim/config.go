package feedsim

import (
	"fmt"
	"time"
)

// Config holds configuration for the simulated provider.
type Config struct {
	Addr      string        // Listen address
	Email     string        // Accepted service account email
	Password  string        // Accepted service account password
	Devices   int           // Devices seeded at startup
	Interval  time.Duration // Time between movement ticks
	StepM     float64       // Maximum distance a device moves per tick, in meters
	CenterLat float64       // Latitude new devices start around
	CenterLon float64       // Longitude new devices start around
	SpreadM   float64       // Radius new devices start within, in meters
	Duration  time.Duration // Stop after this long; zero runs until cancelled
	Verbose   bool          // Log every tick
}

// Validate checks that the simulation can run.
func (c *Config) Validate() error {
	switch {
	case c.Email == "" || c.Password == "":
		return fmt.Errorf("%w: credentials required", ErrInvalidConfig)
	case c.Devices < 0:
		return fmt.Errorf("%w: devices must not be negative", ErrInvalidConfig)
	case c.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	case c.StepM <= 0:
		return fmt.Errorf("%w: step must be positive", ErrInvalidConfig)
	case c.CenterLat < -90 || c.CenterLat > 90 || c.CenterLon < -180 || c.CenterLon > 180:
		return fmt.Errorf("%w: center out of range", ErrInvalidConfig)
	}
	return nil
}

// Stats holds simulation statistics.
type Stats struct {
	Ticks     int
	Moves     int
	Devices   int
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}
