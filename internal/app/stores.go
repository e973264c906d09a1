package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/internal/adapters/store/memstore"
	"github.com/okian/crewmap/internal/adapters/store/natsnotify"
	"github.com/okian/crewmap/internal/adapters/store/pgnotify"
	"github.com/okian/crewmap/internal/adapters/store/sqlstore"
	"github.com/okian/crewmap/internal/config"
	"github.com/okian/crewmap/pkg/logger"
)

// backend is a store plus the notification transports it owns.
type backend struct {
	store.Store
	owned []io.Closer
}

// Close closes the transports, then the store.
func (b *backend) Close() error {
	var errs []error
	for _, c := range b.owned {
		errs = append(errs, c.Close())
	}
	errs = append(errs, b.Store.Close())
	return errors.Join(errs...)
}

// OpenStore builds the directory and trail store selected by cfg, with the
// configured change notification transport attached.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		return memstore.New(), nil
	}

	dialect, err := sqlstore.ParseDialect(cfg.StoreDriver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.ResolvedStoreDSN()
	var (
		opts  []sqlstore.Option
		owned []io.Closer
	)
	closeOwned := func() {
		for _, c := range owned {
			_ = c.Close()
		}
	}

	switch cfg.NotifyDriver {
	case "", "none":
	case "postgres":
		if dialect != sqlstore.Postgres {
			return nil, fmt.Errorf("%w: postgres notifications need the postgres store", ErrUnsupportedNotify)
		}
		l := pgnotify.New(dsn, sqlstore.NotifyChannel)
		if err := l.Start(ctx); err != nil {
			return nil, fmt.Errorf("start change listener: %w", err)
		}
		owned = append(owned, l)
		opts = append(opts, sqlstore.WithNotifier(l))
	case "nats":
		bus, err := natsnotify.Connect(ctx, cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		owned = append(owned, bus)
		opts = append(opts, sqlstore.WithNotifier(bus), sqlstore.WithPublisher(bus))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNotify, cfg.NotifyDriver)
	}

	s, err := sqlstore.Open(ctx, dialect, dsn, opts...)
	if err != nil {
		closeOwned()
		return nil, err
	}
	logger.Get().Named("app").Info(ctx, "store opened",
		logger.String("driver", cfg.StoreDriver), logger.String("notify", cfg.NotifyDriver))
	return &backend{Store: s, owned: owned}, nil
}
