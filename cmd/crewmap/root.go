package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/okian/crewmap/internal/adapters/feed"
	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/internal/app"
	"github.com/okian/crewmap/internal/config"
	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/internal/session"
	"github.com/okian/crewmap/pkg/logger"
)

// env is the state shared by every subcommand once configuration is loaded.
type env struct {
	cfg      *config.Config
	sessions *session.FileStore
	log      logger.Logger
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		logLevel    string
		sessionFile string
		e           env
	)

	cmd := &cobra.Command{
		Use:   "crewmap",
		Short: "Share live location with your crew",
		Long: `crewmap lets a small group share live positions and today's trails.

Create a crew or join one with an invite code, then run the tracker to
follow every member on the map served at the configured address.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := os.Setenv("CREWMAP_CONFIG", configPath); err != nil {
					return err
				}
			}
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if sessionFile != "" {
				cfg.SessionFile = sessionFile
			}

			if err := logger.Init(logger.WithWriter(cmd.ErrOrStderr()), logger.WithFormat(cfg.LogFormat)); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			if err := logger.SetLevelString(cfg.LogLevel); err != nil {
				logger.Get().Warn(cmd.Context(), "invalid log_level; falling back to info",
					logger.String("log_level", cfg.LogLevel), logger.Error(err))
				_ = logger.SetLevelString("info")
			}

			e.cfg = cfg
			e.sessions = session.NewFileStore(cfg.SessionFile)
			e.log = logger.Get().Named("cli")
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&sessionFile, "session-file", "", "Where the local session is kept")

	cmd.AddCommand(
		newCreateCmd(&e),
		newJoinCmd(&e),
		newRunCmd(&e),
		newStatusCmd(&e),
		newLogoutCmd(&e),
	)
	return cmd
}

// newFeedClient builds the provider client from configuration.
func newFeedClient(cfg *config.Config, opts ...feed.Option) (*feed.Client, error) {
	base := []feed.Option{
		feed.WithTimeout(cfg.FeedTimeout()),
		feed.WithBackoff(cfg.FeedBackoffInitial(), cfg.FeedBackoffMax()),
		feed.WithMaxReconnects(cfg.FeedMaxReconnects),
	}
	return feed.New(cfg.FeedURL, cfg.FeedEmail, cfg.FeedPassword, append(base, opts...)...)
}

// onboard opens the store and provider client, runs fn and saves the
// resulting session.
func onboard(ctx context.Context, e *env, fn func(*app.Onboarding) (model.Session, error)) (model.Session, error) {
	_, ok, err := e.sessions.Get()
	if err != nil && !errors.Is(err, session.ErrCorrupt) {
		return model.Session{}, err
	}
	if ok {
		return model.Session{}, errAlreadyInCrew
	}

	st, err := openStore(ctx, e.cfg)
	if err != nil {
		return model.Session{}, err
	}
	defer closeStore(ctx, e.log, st)

	client, err := newFeedClient(e.cfg)
	if err != nil {
		return model.Session{}, err
	}
	defer client.Stop()

	sess, err := fn(app.NewOnboarding(st, client))
	if err != nil {
		return model.Session{}, err
	}
	if err := e.sessions.Set(sess); err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// openStore opens the configured store for a command. Commands run as
// separate processes, so the store has to outlive each of them.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if !cfg.Persistent() {
		return nil, errEphemeralStore
	}
	if cfg.StoreDriver == "sqlite" && cfg.StoreDSN == "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SessionFile), 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return app.OpenStore(ctx, cfg)
}

func closeStore(ctx context.Context, log logger.Logger, st store.Store) {
	if err := st.Close(); err != nil {
		log.Warn(ctx, "closing store failed", logger.Error(err))
	}
}
