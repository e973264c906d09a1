// Package feedsim runs a position provider whose devices wander around a
// center point, so a crew can be tried out without real trackers.
package feedsim

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/okian/crewmap/internal/adapters/feed/feedtest"
	"github.com/okian/crewmap/pkg/logger"
)

const (
	metersPerDegreeLat = 111_320.0
	randomFloatDivisor = 1_000_000
	readHeaderTimeout  = 5 * time.Second
	shutdownTimeout    = 5 * time.Second
)

type coord struct{ lat, lon float64 }

// Simulator owns a provider and the last position of each of its devices.
type Simulator struct {
	cfg      Config
	provider *feedtest.Provider
	logger   logger.Logger

	mu    sync.Mutex
	at    map[int]coord
	stats Stats
}

// New seeds cfg.Devices devices named sim-1, sim-2, ... on a fresh provider.
func New(cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		cfg:      cfg,
		provider: feedtest.NewProvider(cfg.Email, cfg.Password),
		logger:   logger.Get().Named("feedsim"),
		at:       make(map[int]coord),
	}
	for i := 1; i <= cfg.Devices; i++ {
		id := fmt.Sprintf("sim-%d", i)
		s.provider.AddDevice(id, id)
	}
	return s, nil
}

// Handler serves the provider API.
func (s *Simulator) Handler() http.Handler { return s.provider.Handler() }

// Provider exposes the underlying provider.
func (s *Simulator) Provider() *feedtest.Provider { return s.provider }

// Tick moves every registered device once, including devices created by
// clients since the last tick, and returns how many moved.
func (s *Simulator) Tick(now time.Time) int {
	devices := s.provider.Devices()

	s.mu.Lock()
	type move struct {
		id int
		c  coord
	}
	moves := make([]move, 0, len(devices))
	for _, d := range devices {
		c, ok := s.at[d.ID]
		if !ok {
			c = offset(coord{s.cfg.CenterLat, s.cfg.CenterLon}, s.cfg.SpreadM*randomFloat(), 2*math.Pi*randomFloat())
		} else {
			c = offset(c, s.cfg.StepM*randomFloat(), 2*math.Pi*randomFloat())
		}
		s.at[d.ID] = c
		moves = append(moves, move{d.ID, c})
	}
	s.stats.Ticks++
	s.stats.Moves += len(moves)
	s.stats.Devices = len(devices)
	s.mu.Unlock()

	for _, m := range moves {
		s.provider.Move(m.id, m.c.lat, m.c.lon, now)
	}
	return len(moves)
}

// Stats returns a copy of the current statistics.
func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run serves the provider on cfg.Addr and moves devices every interval
// until ctx is done or cfg.Duration elapses.
func (s *Simulator) Run(ctx context.Context) (Stats, error) {
	if s.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Duration)
		defer cancel()
	}

	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "simulated provider listening",
			logger.String("addr", s.cfg.Addr), logger.Int("devices", s.cfg.Devices))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.mu.Lock()
	s.stats.StartTime = time.Now()
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err, ok := <-errCh:
			if ok {
				runErr = fmt.Errorf("serve provider: %w", err)
			}
			break loop
		case now := <-ticker.C:
			n := s.Tick(now)
			if s.cfg.Verbose {
				s.logger.Debug(ctx, "tick", logger.Int("moved", n))
			}
		}
	}

	s.provider.DropConnections()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}

	s.mu.Lock()
	s.stats.EndTime = time.Now()
	s.stats.Duration = s.stats.EndTime.Sub(s.stats.StartTime)
	st := s.stats
	s.mu.Unlock()
	return st, runErr
}

// offset moves c by dist meters along bearing (radians from north).
func offset(c coord, dist, bearing float64) coord {
	lat := c.lat + dist*math.Cos(bearing)/metersPerDegreeLat
	lon := c.lon + dist*math.Sin(bearing)/(metersPerDegreeLat*math.Cos(c.lat*math.Pi/180))
	return coord{lat: clamp(lat, -90, 90), lon: wrapLon(lon)}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func wrapLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// randomFloat returns a value in [0, 1) using crypto/rand.
func randomFloat() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	if err != nil {
		return 0
	}
	return float64(n.Int64()) / float64(randomFloatDivisor)
}
