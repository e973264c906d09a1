// Package sqlstore implements the directory and trail store on PostgreSQL
// (lib/pq) or SQLite (modernc.org/sqlite).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/pkg/logger"
)

// Store implements store.Store over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect

	hub          *store.Hub
	notifier     store.Notifier
	localPublish bool
	publishers   []Publisher

	logger logger.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn with the given dialect and bootstraps the schema.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// One writer at a time avoids SQLITE_BUSY under the persistence pool.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if err := CreateSchema(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, dialect, opts...), nil
}

// New wraps an already-open database. The schema must exist.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	hub := store.NewHub()
	s := &Store{
		db:           db,
		dialect:      dialect,
		hub:          hub,
		notifier:     hub,
		localPublish: true,
		logger:       logger.Get().Named("sqlstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateCrew(ctx context.Context, crew model.Crew) error {
	_, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO crews (id, name, invite_code, created_at) VALUES (?, ?, ?, ?)`),
		crew.ID, crew.Name, crew.InviteCode, crew.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: crew %s: %v", store.ErrDuplicate, crew.InviteCode, err)
		}
		return fmt.Errorf("insert crew: %w", err)
	}
	s.published(ctx, store.TableCrews, crew.ID, crew)
	return nil
}

func (s *Store) Crew(ctx context.Context, id string) (model.Crew, error) {
	return s.queryCrew(ctx, `SELECT id, name, invite_code, created_at FROM crews WHERE id = ?`, id)
}

func (s *Store) CrewByInviteCode(ctx context.Context, code string) (model.Crew, error) {
	return s.queryCrew(ctx, `SELECT id, name, invite_code, created_at FROM crews WHERE invite_code = ?`, code)
}

func (s *Store) queryCrew(ctx context.Context, query, arg string) (model.Crew, error) {
	var c model.Crew
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(query), arg).
		Scan(&c.ID, &c.Name, &c.InviteCode, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Crew{}, fmt.Errorf("%w: crew %s", store.ErrNotFound, arg)
	}
	if err != nil {
		return model.Crew{}, fmt.Errorf("query crew: %w", err)
	}
	return c, nil
}

func (s *Store) AddMember(ctx context.Context, m model.Member) error {
	_, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO crew_members (id, crew_id, name, color, device_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		m.ID, m.CrewID, m.Name, m.Color, m.DeviceID, m.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: member name %q: %v", store.ErrDuplicate, m.Name, err)
		}
		return fmt.Errorf("insert member: %w", err)
	}
	s.published(ctx, store.TableMembers, m.CrewID, m)
	return nil
}

func (s *Store) Members(ctx context.Context, crewID string) ([]model.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT id, crew_id, name, color, device_id, created_at FROM crew_members WHERE crew_id = ? ORDER BY created_at ASC, id ASC`),
		crewID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Member, 0)
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.ID, &m.CrewID, &m.Name, &m.Color, &m.DeviceID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

func (s *Store) InsertPoint(ctx context.Context, p model.TrailPoint) error {
	_, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO location_trails (id, crew_id, member_id, latitude, longitude, timestamp, day_marker) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.CrewID, p.MemberID, p.Latitude, p.Longitude, p.Timestamp.UTC(), p.DayBucket)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: trail point %s: %v", store.ErrDuplicate, p.ID, err)
		}
		return fmt.Errorf("insert trail point: %w", err)
	}
	s.published(ctx, store.TableTrails, p.CrewID, p)
	return nil
}

func (s *Store) PointsForDay(ctx context.Context, crewID, day string) ([]model.TrailPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT id, crew_id, member_id, latitude, longitude, timestamp, day_marker FROM location_trails WHERE crew_id = ? AND day_marker = ? ORDER BY timestamp ASC`),
		crewID, day)
	if err != nil {
		return nil, fmt.Errorf("query trail points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.TrailPoint, 0)
	for rows.Next() {
		var p model.TrailPoint
		var ts time.Time
		if err := rows.Scan(&p.ID, &p.CrewID, &p.MemberID, &p.Latitude, &p.Longitude, &ts, &p.DayBucket); err != nil {
			return nil, fmt.Errorf("scan trail point: %w", err)
		}
		p.Timestamp = ts
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trail points: %w", err)
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, table store.Table, crewID string, fn func(store.Change)) (store.Subscription, error) {
	return s.notifier.Subscribe(ctx, table, crewID, fn)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// published fans a committed write out to in-process subscribers and
// external publishers. Failures are logged; the write already succeeded.
func (s *Store) published(ctx context.Context, table store.Table, crewID string, row any) {
	if !s.localPublish && len(s.publishers) == 0 {
		return
	}
	c, err := store.NewChange(table, store.OpInsert, crewID, row)
	if err != nil {
		s.logger.Warn(ctx, "encode change failed", logger.String("table", string(table)), logger.Error(err))
		return
	}
	if s.localPublish {
		s.hub.Publish(c)
	}
	for _, p := range s.publishers {
		if err := p.PublishChange(c); err != nil {
			s.logger.Warn(ctx, "publish change failed", logger.String("table", string(table)), logger.Error(err))
		}
	}
}
