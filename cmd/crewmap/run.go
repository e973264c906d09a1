package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/okian/crewmap/internal/adapters/feed"
	"github.com/okian/crewmap/internal/adapters/http/api"
	"github.com/okian/crewmap/internal/adapters/http/swagger"
	"github.com/okian/crewmap/internal/app"
	"github.com/okian/crewmap/internal/config"
	"github.com/okian/crewmap/internal/domain/view"
	"github.com/okian/crewmap/pkg/logger"
	"github.com/okian/crewmap/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	trackerMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func newRunCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Track the crew until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, e)
		},
	}
}

func run(ctx context.Context, e *env) error {
	// Our own system metrics replace the default Go collectors.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sess, ok, err := e.sessions.Get()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: run create or join first", app.ErrNoSession)
	}

	st, err := openStore(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer closeStore(context.WithoutCancel(ctx), e.log, st)

	client, err := newFeedClient(e.cfg,
		feed.WithDisconnectHandler(func(err error) {
			e.log.Error(ctx, "live positions frozen at last known values", logger.Error(err))
		}),
	)
	if err != nil {
		return err
	}

	opts, err := trackerOptions(e.cfg)
	if err != nil {
		return err
	}
	tracker, err := app.NewTracker(sess, st, client, opts...)
	if err != nil {
		return err
	}
	if err := tracker.Start(ctx); err != nil {
		return fmt.Errorf("start tracker: %w", err)
	}
	defer tracker.Stop()

	go startSystemMetricsUpdater(ctx)
	go startTrackerMetricsUpdater(ctx, tracker)

	var srv *http.Server
	if e.cfg.Addr != "" {
		srv = newServer(ctx, e.cfg.Addr, tracker)
		go func() {
			e.log.Info(ctx, "starting HTTP server", logger.String("addr", e.cfg.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.log.Error(ctx, "HTTP server failed", logger.Error(err))
			}
		}()
	}

	e.log.Info(ctx, "tracking crew",
		logger.String("crew", sess.CrewName), logger.String("member", sess.MemberName))
	<-ctx.Done()
	e.log.Info(context.WithoutCancel(ctx), "shutting down...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			e.log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
		}
	}
	return nil
}

func trackerOptions(cfg *config.Config) ([]app.TrackerOption, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return []app.TrackerOption{
		app.WithLocation(loc),
		app.WithQueueSize(cfg.EventQueueSize),
		app.WithPersistWorkers(cfg.PersistWorkers),
		app.WithUnresolvedLimit(cfg.UnresolvedLimit),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithFade(view.Fade{MaxAge: cfg.TrailFadeMaxAge(), MinOpacity: cfg.TrailMinOpacity}),
	}, nil
}

func newServer(ctx context.Context, addr string, deps api.Dependencies) *http.Server {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(deps).Register(ctx, mux)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// startSystemMetricsUpdater periodically publishes process metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func startTrackerMetricsUpdater(ctx context.Context, t *app.Tracker) {
	ticker := time.NewTicker(trackerMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateTrackerMetrics(ctx, t)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

func updateTrackerMetrics(ctx context.Context, t *app.Tracker) {
	st := t.Stats(ctx)
	metrics.UpdateQueueSize(st.QueueLength)
	metrics.UpdateFeedConnected(st.FeedConnected)
	metrics.UpdateLiveDevices(st.LiveDevices)
	metrics.UpdateTrailPoints(st.TrailPoints)
}
