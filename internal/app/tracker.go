// Package app wires a crew session: the per-session Tracker that runs the
// live map, and the onboarding flows that create or join a crew.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/crewmap/internal/adapters/feed"
	eventqueue "github.com/okian/crewmap/internal/adapters/mq/queue"
	"github.com/okian/crewmap/internal/adapters/mq/worker"
	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/internal/domain/dedupe"
	"github.com/okian/crewmap/internal/domain/directory"
	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/internal/domain/reconcile"
	"github.com/okian/crewmap/internal/domain/trail"
	"github.com/okian/crewmap/internal/domain/view"
	"github.com/okian/crewmap/pkg/logger"
	"github.com/okian/crewmap/pkg/metrics"
)

// Tracking status of the local member.
const (
	StatusActive  = "tracking active"
	StatusWaiting = "waiting for location"
)

// FeedClient is the position feed the tracker consumes. *feed.Client
// satisfies it.
type FeedClient interface {
	Authenticate(ctx context.Context) (feed.Credentials, error)
	FetchPositions(ctx context.Context, deviceIDs ...string) []model.Position
	StreamPositions(ctx context.Context, onPositions func([]model.Position)) error
	Connected() bool
	Stop()
}

// Tracker runs one crew session. It owns the feed client, roster cache,
// trail sync, reconciler, event queue and persistence pool, and tears all
// of them down on Stop. Construct one per session.
type Tracker struct {
	session model.Session
	store   store.Store
	feed    FeedClient

	clock           model.Clock
	loc             *time.Location
	fade            view.Fade
	queueSize       int
	persistWorkers  int
	unresolvedLimit int
	dedupeSize      int
	logger          logger.Logger

	directory  *directory.Cache
	trails     *trail.Sync
	reconciler *reconcile.Reconciler

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	cancel    context.CancelFunc
	events    *eventqueue.InMemoryQueue[reconcile.Event]
	relay     *pointRelay
	persist   *worker.Pool[model.TrailPoint]
	subs      []store.Subscription
	runDone   chan struct{}
	runCtx    context.Context
}

// NewTracker builds a tracker for sess. Nothing runs until Start.
func NewTracker(sess model.Session, st store.Store, fc FeedClient, opts ...TrackerOption) (*Tracker, error) {
	if !sess.Valid() {
		return nil, ErrNoSession
	}
	t := &Tracker{
		session:         sess,
		store:           st,
		feed:            fc,
		clock:           model.SystemClock{},
		loc:             time.Local,
		fade:            view.DefaultFade(),
		queueSize:       1024,
		persistWorkers:  2,
		unresolvedLimit: 256,
		dedupeSize:      50000,
		logger:          logger.Get().Named("tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.directory = directory.New(sess.CrewID, st, directory.WithLogger(t.logger.Named("directory")))
	t.trails = trail.New(sess.CrewID, st,
		trail.WithClock(t.clock),
		trail.WithLocation(t.loc),
		trail.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(t.dedupeSize))),
		trail.WithLogger(t.logger.Named("trail")),
	)
	t.reconciler = reconcile.New(t.directory, t.trails,
		reconcile.WithUnresolvedLimit(t.unresolvedLimit),
		reconcile.WithPersister(reconcile.PersisterFunc(t.submitPoint)),
		reconcile.WithLogger(t.logger.Named("reconcile")),
	)
	return t, nil
}

// Start subscribes to store changes, loads the roster and today's trails,
// and opens the position feed. Only roster and subscription failures are
// returned; feed problems are logged and the tracker keeps serving what it
// has.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}

	t.logger.Info(ctx, "starting tracker",
		logger.String("crew", t.session.CrewID), logger.String("member", t.session.MemberID))

	runCtx, cancel := context.WithCancel(ctx)
	t.runCtx = runCtx
	t.cancel = cancel
	t.events = eventqueue.NewInMemoryQueue[reconcile.Event](eventqueue.WithCapacity(t.queueSize))
	t.relay = newPointRelay(t.queueSize)
	t.persist = worker.NewPool[model.TrailPoint](t.persistWorkers,
		eventqueue.NewInMemoryQueue[model.TrailPoint](eventqueue.WithCapacity(t.queueSize)),
		worker.HandlerFunc[model.TrailPoint](t.trails.Append),
		worker.WithName("trail-persist"),
		worker.WithLogger(t.logger.Named("persist")),
	)
	// Writes already issued complete on Stop.
	t.persist.Start(context.WithoutCancel(ctx))

	t.runDone = make(chan struct{})
	go func() {
		defer close(t.runDone)
		t.reconciler.Run(runCtx, t.events)
	}()
	go t.relay.run(runCtx, func(ctx context.Context, p model.TrailPoint) error {
		return t.events.Put(ctx, reconcile.ExternalPoint{Point: p})
	})

	// Listen before the first read so a member joining in between is seen.
	if err := t.subscribe(runCtx); err != nil {
		t.teardown(ctx)
		return err
	}
	members, err := t.directory.Refresh(ctx)
	if err != nil {
		t.teardown(ctx)
		return fmt.Errorf("load roster: %w", err)
	}
	if _, err := t.trails.LoadToday(ctx); err != nil {
		t.logger.Warn(ctx, "loading today's trails failed, starting empty", logger.Error(err))
	}

	if _, err := t.feed.Authenticate(ctx); err != nil {
		t.logger.Error(ctx, "feed authentication failed, live positions unavailable until the stream re-authenticates", logger.Error(err))
	}
	if initial := t.feed.FetchPositions(ctx, deviceIDs(members)...); len(initial) > 0 {
		t.enqueue(reconcile.FeedBatch{Positions: initial})
	}
	if err := t.feed.StreamPositions(runCtx, func(ps []model.Position) {
		t.enqueue(reconcile.FeedBatch{Positions: ps})
	}); err != nil {
		t.logger.Error(ctx, "position stream not started", logger.Error(err))
	}

	t.started = true
	t.startedAt = t.clock.Now()
	t.logger.Info(ctx, "tracker started",
		logger.Int("members", len(members)), logger.Int("trail_points", t.trails.Len()))
	return nil
}

func (t *Tracker) subscribe(ctx context.Context) error {
	rosterSub, err := t.directory.OnChange(ctx, t.store, func(members []model.Member) {
		t.enqueue(reconcile.RosterChange{Members: members})
	})
	if err != nil {
		return err
	}
	t.subs = append(t.subs, rosterSub)

	// Runs on the store's publishing goroutine, which may be a persistence
	// worker, so it must not wait on the event queue.
	trailSub, err := t.trails.OnNewPoint(ctx, t.store, func(p model.TrailPoint) {
		if t.trails.Applied(ctx, p.ID) {
			return
		}
		if !t.relay.push(p) {
			t.logger.Warn(ctx, "trail notification relay full, oldest point dropped")
		}
	})
	if err != nil {
		return err
	}
	t.subs = append(t.subs, trailSub)
	metrics.AddActiveSubscriptions(len(t.subs))
	return nil
}

// enqueue hands ev to the reconciler, waiting for room. Events offered
// after Stop are dropped.
func (t *Tracker) enqueue(ev reconcile.Event) {
	if err := t.events.Put(t.runCtx, ev); err != nil {
		t.logger.Debug(t.runCtx, "event dropped", logger.Error(err))
	}
}

// submitPoint hands p to the persistence pool without waiting. The
// reconciler calls it, so a full pool drops the point rather than stall the
// live map.
func (t *Tracker) submitPoint(ctx context.Context, p model.TrailPoint) {
	if err := t.persist.TrySubmit(ctx, p); err != nil {
		metrics.RecordTrailPersistError()
		metrics.RecordErrorByComponent("tracker", "persist_dropped")
		t.logger.Warn(ctx, "trail point dropped", logger.String("member", p.MemberID),
			logger.Error(fmt.Errorf("%w: %v", trail.ErrPersist, err)))
	}
}

// Stop closes the push channel, drops every store subscription, drains the
// reconciler and waits for queued trail writes. It is safe to call more
// than once.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	ctx := context.Background()
	t.logger.Info(ctx, "stopping tracker")
	t.teardown(ctx)
	t.started = false
	t.logger.Info(ctx, "tracker stopped")
}

func (t *Tracker) teardown(ctx context.Context) {
	// Cancel first so producers blocked on a full queue return.
	t.cancel()
	t.feed.Stop()
	for _, s := range t.subs {
		if err := s.Close(); err != nil {
			t.logger.Warn(ctx, "closing subscription failed", logger.Error(err))
		}
	}
	metrics.AddActiveSubscriptions(-len(t.subs))
	t.subs = nil

	<-t.relay.done
	_ = t.events.Close()
	<-t.runDone
	if err := t.persist.Shutdown(ctx); err != nil {
		t.logger.Warn(ctx, "trail writes did not drain", logger.Error(err))
	}
}

// Session returns the session this tracker serves.
func (t *Tracker) Session() model.Session { return t.session }

// Markers returns the current marker of every member with a position.
func (t *Tracker) Markers() []view.Marker {
	return view.CurrentMarkers(t.directory.Members(), t.reconciler.Live())
}

// Trails renders today's trails of every member.
func (t *Tracker) Trails(ctx context.Context) view.FeatureCollection {
	return view.TrailCollection(t.directory.Members(), t.trails.Snapshot(ctx), t.fade, t.clock.Now())
}

// Trail renders one member's trail. It returns false for an unknown member
// or a trail that does not form a line yet.
func (t *Tracker) Trail(ctx context.Context, memberID string) (view.Feature, bool) {
	m, ok := t.directory.ByMemberID(memberID)
	if !ok {
		return view.Feature{}, false
	}
	return view.TrailFeature(m, t.trails.Trail(ctx, memberID), t.fade, t.clock.Now())
}

// Stats summarizes tracker state.
type Stats struct {
	CrewID        string `json:"crew_id"`
	CrewName      string `json:"crew_name"`
	InviteCode    string `json:"invite_code"`
	MemberID      string `json:"member_id"`
	MemberName    string `json:"member_name"`
	Status        string `json:"status"`
	Started       bool   `json:"started"`
	Uptime        string `json:"uptime,omitempty"`
	FeedConnected bool   `json:"feed_connected"`
	Members       int    `json:"members"`
	LiveDevices   int    `json:"live_devices"`
	Unresolved    int    `json:"unresolved_devices"`
	TrailPoints   int    `json:"trail_points"`
	Day           string `json:"day"`
	QueueLength   int    `json:"queue_length"`
}

// Stats returns a snapshot of tracker state.
func (t *Tracker) Stats(ctx context.Context) Stats {
	t.mu.Lock()
	started, startedAt, events := t.started, t.startedAt, t.events
	t.mu.Unlock()

	st := Stats{
		CrewID:        t.session.CrewID,
		CrewName:      t.session.CrewName,
		InviteCode:    t.session.InviteCode,
		MemberID:      t.session.MemberID,
		MemberName:    t.session.MemberName,
		Status:        StatusWaiting,
		Started:       started,
		FeedConnected: t.feed.Connected(),
		Members:       t.directory.Snapshot().Len(),
		LiveDevices:   len(t.reconciler.Live()),
		Unresolved:    len(t.reconciler.Unresolved()),
		TrailPoints:   t.trails.Len(),
		Day:           t.trails.Today(),
	}
	if _, ok := t.reconciler.Position(t.session.DeviceID); ok {
		st.Status = StatusActive
	}
	if started {
		st.Uptime = t.clock.Now().Sub(startedAt).Round(time.Second).String()
		st.QueueLength = events.Len(ctx)
	}
	return st
}

func deviceIDs(members []model.Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.DeviceID != "" {
			ids = append(ids, m.DeviceID)
		}
	}
	return ids
}
