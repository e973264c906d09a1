// Package directory caches a crew's roster and resolves tracking devices to
// members against the most recent snapshot.
package directory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/pkg/logger"
	"github.com/okian/crewmap/pkg/metrics"
)

// Loader reads a crew roster. store.Directory satisfies it.
type Loader interface {
	Members(ctx context.Context, crewID string) ([]model.Member, error)
}

// Snapshot is an immutable roster. It is replaced on refresh, never mutated.
type Snapshot struct {
	members  []model.Member
	byDevice map[string]model.Member
	byID     map[string]model.Member
}

func newSnapshot(members []model.Member) *Snapshot {
	s := &Snapshot{
		members:  append([]model.Member(nil), members...),
		byDevice: make(map[string]model.Member, len(members)),
		byID:     make(map[string]model.Member, len(members)),
	}
	for _, m := range s.members {
		s.byID[m.ID] = m
		if m.DeviceID != "" {
			s.byDevice[m.DeviceID] = m
		}
	}
	return s
}

// Members returns a copy of the roster in load order.
func (s *Snapshot) Members() []model.Member {
	return append([]model.Member(nil), s.members...)
}

// ByDeviceID resolves a tracking device to its member.
func (s *Snapshot) ByDeviceID(deviceID string) (model.Member, bool) {
	m, ok := s.byDevice[deviceID]
	return m, ok
}

// ByMemberID returns the member with id.
func (s *Snapshot) ByMemberID(id string) (model.Member, bool) {
	m, ok := s.byID[id]
	return m, ok
}

// Len returns the roster size.
func (s *Snapshot) Len() int { return len(s.members) }

// Cache holds the current roster snapshot for one crew.
type Cache struct {
	crewID string
	loader Loader
	logger logger.Logger

	snap      atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
}

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns an empty Cache for crewID. Call Refresh to load it.
func New(crewID string, loader Loader, opts ...Option) *Cache {
	c := &Cache{
		crewID: crewID,
		loader: loader,
		logger: logger.Get().Named("directory"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap.Store(newSnapshot(nil))
	return c
}

// CrewID returns the crew this cache is scoped to.
func (c *Cache) CrewID() string { return c.crewID }

// Refresh reloads the full roster and swaps it in. On error the previous
// snapshot stays in place.
func (c *Cache) Refresh(ctx context.Context) ([]model.Member, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	members, err := c.loader.Members(ctx, c.crewID)
	if err != nil {
		metrics.RecordRosterRefreshError()
		metrics.RecordErrorByComponent("directory", "refresh")
		return nil, fmt.Errorf("refresh roster for crew %s: %w", c.crewID, err)
	}

	next := newSnapshot(members)
	c.snap.Store(next)
	metrics.RecordRosterRefresh(next.Len())
	c.logger.Debug(ctx, "roster refreshed", logger.String("crew", c.crewID), logger.Int("members", next.Len()))
	return next.Members(), nil
}

// Snapshot returns the current roster.
func (c *Cache) Snapshot() *Snapshot { return c.snap.Load() }

// Members returns the current roster.
func (c *Cache) Members() []model.Member { return c.snap.Load().Members() }

// ByDeviceID resolves deviceID against the latest snapshot.
func (c *Cache) ByDeviceID(deviceID string) (model.Member, bool) {
	return c.snap.Load().ByDeviceID(deviceID)
}

// ByMemberID looks up a member in the latest snapshot.
func (c *Cache) ByMemberID(id string) (model.Member, bool) {
	return c.snap.Load().ByMemberID(id)
}

// OnChange subscribes to member changes for the crew. Each burst of
// notifications triggers one refresh, after which fn receives the new
// roster. fn runs on a single goroutine owned by the subscription.
func (c *Cache) OnChange(ctx context.Context, notifier store.Notifier, fn func([]model.Member)) (store.Subscription, error) {
	w := &watch{
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	sub, err := notifier.Subscribe(ctx, store.TableMembers, c.crewID, func(ch store.Change) {
		metrics.RecordChangeNotification(string(ch.Table), string(ch.Op))
		select {
		case w.signal <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to roster changes: %w", err)
	}
	w.sub = sub

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-w.signal:
			}
			members, err := c.Refresh(ctx)
			if err != nil {
				c.logger.Warn(ctx, "roster refresh after change failed", logger.Error(err))
				continue
			}
			if fn != nil {
				fn(members)
			}
		}
	}()
	return w, nil
}

const watchCloseTimeout = 5 * time.Second

// watch ties a store subscription to its refresh goroutine.
type watch struct {
	sub    store.Subscription
	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (w *watch) Close() error {
	var err error
	w.once.Do(func() {
		err = w.sub.Close()
		close(w.stop)
		select {
		case <-w.done:
		case <-time.After(watchCloseTimeout):
		}
	})
	return err
}
