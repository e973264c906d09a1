// Package pgnotify delivers store changes emitted by the postgres change
// trigger over LISTEN/NOTIFY.
package pgnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/pkg/logger"
	"github.com/okian/crewmap/pkg/metrics"
)

const (
	defaultMinReconnect = 1 * time.Second
	defaultMaxReconnect = 30 * time.Second
	defaultPingInterval = 90 * time.Second
)

// Listener implements store.Notifier on a pq.Listener.
type Listener struct {
	dsn          string
	channel      string
	minReconnect time.Duration
	maxReconnect time.Duration
	pingInterval time.Duration

	hub    *store.Hub
	logger logger.Logger

	mu       sync.Mutex
	listener *pq.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ store.Notifier = (*Listener)(nil)

// New returns a Listener for channel on the database at dsn.
func New(dsn, channel string, opts ...Option) *Listener {
	l := &Listener{
		dsn:          dsn,
		channel:      channel,
		minReconnect: defaultMinReconnect,
		maxReconnect: defaultMaxReconnect,
		pingInterval: defaultPingInterval,
		hub:          store.NewHub(),
		logger:       logger.Get().Named("pgnotify"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start connects and begins dispatching notifications until Close or ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return ErrAlreadyStarted
	}

	pl := pq.NewListener(l.dsn, l.minReconnect, l.maxReconnect, func(ev pq.ListenerEventType, err error) {
		l.onEvent(ctx, ev, err)
	})
	if err := pl.Listen(l.channel); err != nil {
		_ = pl.Close()
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.listener = pl
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(runCtx, pl, l.done)
	return nil
}

func (l *Listener) run(ctx context.Context, pl *pq.Listener, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-pl.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Connection was re-established; notifications sent meanwhile are lost.
				l.logger.Warn(ctx, "listener reconnected, changes may have been missed")
				continue
			}
			l.dispatch(ctx, n.Extra)
		case <-ticker.C:
			if err := pl.Ping(); err != nil {
				l.logger.Warn(ctx, "listener ping failed", logger.Error(err))
			}
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, payload string) {
	c, err := Decode(payload)
	if err != nil {
		metrics.RecordErrorByComponent("pgnotify", "decode")
		l.logger.Warn(ctx, "dropping malformed notification", logger.Error(err))
		return
	}
	l.hub.Publish(c)
}

func (l *Listener) onEvent(ctx context.Context, ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.logger.Info(ctx, "listener connected", logger.String("channel", l.channel))
	case pq.ListenerEventDisconnected:
		l.logger.Warn(ctx, "listener disconnected", logger.Error(err))
	case pq.ListenerEventReconnected:
		l.logger.Info(ctx, "listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn(ctx, "listener connection attempt failed", logger.Error(err))
	}
}

// Subscribe registers fn for changes to table scoped to crewID.
func (l *Listener) Subscribe(ctx context.Context, table store.Table, crewID string, fn func(store.Change)) (store.Subscription, error) {
	return l.hub.Subscribe(ctx, table, crewID, fn)
}

// Close stops the listener and waits for the dispatch loop to exit.
func (l *Listener) Close() error {
	l.mu.Lock()
	pl, cancel, done := l.listener, l.cancel, l.done
	l.listener, l.cancel, l.done = nil, nil, nil
	l.mu.Unlock()

	if pl == nil {
		return nil
	}
	cancel()
	err := pl.Close()
	<-done
	return err
}

// Decode parses a trigger payload into a Change.
func Decode(payload string) (store.Change, error) {
	var c store.Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return store.Change{}, fmt.Errorf("%w: %v", store.ErrMalformedChange, err)
	}
	if c.Table == "" || c.CrewID == "" {
		return store.Change{}, fmt.Errorf("%w: missing table or crew", store.ErrMalformedChange)
	}
	return c, nil
}
