// Package natsnotify carries store changes over NATS subjects of the form
// <prefix>.<table>.<crewID>. It lets several tracker processes sharing a
// SQL store see each other's writes when the database cannot notify.
package natsnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/pkg/logger"
	"github.com/okian/crewmap/pkg/metrics"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "crewmap.changes"

// Bus publishes and subscribes to store changes on NATS.
type Bus struct {
	nc     *nats.Conn
	owned  bool
	prefix string
	logger logger.Logger
}

var _ store.Notifier = (*Bus)(nil)

// Connect dials url and returns a Bus that owns the connection.
func Connect(ctx context.Context, url string, opts ...Option) (*Bus, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before connect: %w", err)
	}
	nc, err := nats.Connect(url,
		nats.Name("crewmap"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	b := New(nc, opts...)
	b.owned = true
	return b, nil
}

// New wraps an existing connection.
func New(nc *nats.Conn, opts ...Option) *Bus {
	b := &Bus{
		nc:     nc,
		prefix: DefaultPrefix,
		logger: logger.Get().Named("natsnotify"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subject returns the subject for table changes in crewID.
func Subject(prefix string, table store.Table, crewID string) string {
	return prefix + "." + token(string(table)) + "." + token(crewID)
}

// token keeps subject separators and wildcards out of a single token.
func token(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// PublishChange sends c on its subject.
func (b *Bus) PublishChange(c store.Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := b.nc.Publish(Subject(b.prefix, c.Table, c.CrewID), data); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe registers fn for changes to table scoped to crewID.
func (b *Bus) Subscribe(ctx context.Context, table store.Table, crewID string, fn func(store.Change)) (store.Subscription, error) {
	sub, err := b.nc.Subscribe(Subject(b.prefix, table, crewID), b.handler(ctx, fn))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}
	metrics.AddActiveSubscriptions(1)
	return &subscription{sub: sub}, nil
}

func (b *Bus) handler(ctx context.Context, fn func(store.Change)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var c store.Change
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			metrics.RecordErrorByComponent("natsnotify", "decode")
			b.logger.Warn(ctx, "dropping malformed change", logger.String("subject", msg.Subject), logger.Error(err))
			return
		}
		metrics.RecordChangeNotification(string(c.Table), string(c.Op))
		fn(c)
	}
}

// Close drains the connection if the Bus owns it.
func (b *Bus) Close() error {
	if !b.owned {
		return nil
	}
	return b.nc.Drain()
}

type subscription struct {
	sub  *nats.Subscription
	once sync.Once
	err  error
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.err = s.sub.Unsubscribe()
		metrics.AddActiveSubscriptions(-1)
	})
	return s.err
}
