package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// NotifyChannel is the postgres LISTEN channel the change trigger writes to.
const NotifyChannel = "crewmap_changes"

// CreateSchema creates all tables needed by the store.
// Safe to call multiple times.
func CreateSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	if _, err := db.ExecContext(ctx, d.schema()); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS crews (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    invite_code TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS crew_members (
    id TEXT PRIMARY KEY,
    crew_id TEXT NOT NULL REFERENCES crews(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    color TEXT NOT NULL,
    device_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (crew_id, name)
);

CREATE INDEX IF NOT EXISTS idx_crew_members_crew_id ON crew_members(crew_id);

CREATE TABLE IF NOT EXISTS location_trails (
    id TEXT PRIMARY KEY,
    crew_id TEXT NOT NULL REFERENCES crews(id) ON DELETE CASCADE,
    member_id TEXT NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    day_marker TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_location_trails_day ON location_trails(crew_id, day_marker, timestamp);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS crews (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    invite_code TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS crew_members (
    id TEXT PRIMARY KEY,
    crew_id TEXT NOT NULL REFERENCES crews(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    color TEXT NOT NULL,
    device_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (crew_id, name)
);

CREATE INDEX IF NOT EXISTS idx_crew_members_crew_id ON crew_members(crew_id);

CREATE TABLE IF NOT EXISTS location_trails (
    id TEXT PRIMARY KEY,
    crew_id TEXT NOT NULL REFERENCES crews(id) ON DELETE CASCADE,
    member_id TEXT NOT NULL,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    day_marker TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_location_trails_day ON location_trails(crew_id, day_marker, timestamp);

CREATE OR REPLACE FUNCTION crewmap_notify_change() RETURNS trigger AS $$
DECLARE
    rec RECORD;
BEGIN
    IF TG_OP = 'DELETE' THEN
        rec := OLD;
    ELSE
        rec := NEW;
    END IF;
    PERFORM pg_notify('crewmap_changes', json_build_object(
        'table', TG_TABLE_NAME,
        'op', TG_OP,
        'crew_id', rec.crew_id,
        'row', row_to_json(rec)
    )::text);
    RETURN rec;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS crew_members_notify ON crew_members;
CREATE TRIGGER crew_members_notify AFTER INSERT OR UPDATE OR DELETE ON crew_members
    FOR EACH ROW EXECUTE FUNCTION crewmap_notify_change();

DROP TRIGGER IF EXISTS location_trails_notify ON location_trails;
CREATE TRIGGER location_trails_notify AFTER INSERT OR UPDATE OR DELETE ON location_trails
    FOR EACH ROW EXECUTE FUNCTION crewmap_notify_change();
`
