// Command feed-sim serves a simulated position provider whose devices
// wander around a center point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/crewmap/internal/feedsim"
	"github.com/okian/crewmap/pkg/logger"
)

// Default configuration constants.
const (
	defaultDevices  = 3
	defaultInterval = 2 * time.Second
	defaultStepM    = 15.0
	defaultSpreadM  = 800.0
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:8082", "Listen address")
		email    = flag.String("email", "service@crewmap.local", "Service account email")
		password = flag.String("password", "crewmap", "Service account password")
		devices  = flag.Int("devices", defaultDevices, "Devices seeded at startup (sim-1, sim-2, ...)")
		interval = flag.Duration("interval", defaultInterval, "Time between movement ticks")
		step     = flag.Float64("step", defaultStepM, "Maximum meters a device moves per tick")
		lat      = flag.Float64("lat", 47.3769, "Center latitude")
		lon      = flag.Float64("lon", 8.5417, "Center longitude")
		spread   = flag.Float64("spread", defaultSpreadM, "Radius in meters new devices start within")
		duration = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
		verbose  = flag.Bool("verbose", false, "Log every tick")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim, err := feedsim.New(feedsim.Config{
		Addr:      *addr,
		Email:     *email,
		Password:  *password,
		Devices:   *devices,
		Interval:  *interval,
		StepM:     *step,
		CenterLat: *lat,
		CenterLon: *lon,
		SpreadM:   *spread,
		Duration:  *duration,
		Verbose:   *verbose,
	})
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	stats, err := sim.Run(ctx)
	fmt.Printf("ticks=%d moves=%d devices=%d duration=%s\n",
		stats.Ticks, stats.Moves, stats.Devices, stats.Duration.Round(time.Millisecond))
	if err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		os.Exit(1)
	}
}
