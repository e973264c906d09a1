package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRoutesByTableAndCrew(t *testing.T) {
	ctx := context.Background()
	hub := store.NewHub()

	var members, trails, otherCrew int
	_, err := hub.Subscribe(ctx, store.TableMembers, "c1", func(store.Change) { members++ })
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, store.TableTrails, "c1", func(store.Change) { trails++ })
	require.NoError(t, err)
	_, err = hub.Subscribe(ctx, store.TableMembers, "c2", func(store.Change) { otherCrew++ })
	require.NoError(t, err)

	hub.Publish(store.Change{Table: store.TableMembers, Op: store.OpInsert, CrewID: "c1"})

	assert.Equal(t, 1, members)
	assert.Equal(t, 0, trails)
	assert.Equal(t, 0, otherCrew)
	assert.Equal(t, 3, hub.Len())
}

func TestHubSubscriptionClose(t *testing.T) {
	ctx := context.Background()
	hub := store.NewHub()

	calls := 0
	sub, err := hub.Subscribe(ctx, store.TableTrails, "c1", func(store.Change) { calls++ })
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	hub.Publish(store.Change{Table: store.TableTrails, Op: store.OpInsert, CrewID: "c1"})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, hub.Len())
}

func TestChangeDecoding(t *testing.T) {
	ts := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	point := model.TrailPoint{ID: "p1", MemberID: "m1", CrewID: "c1", Latitude: 52.5, Longitude: 13.4, Timestamp: ts, DayBucket: "2025-03-01"}

	c, err := store.NewChange(store.TableTrails, store.OpInsert, "c1", point)
	require.NoError(t, err)

	got, err := c.TrailPoint()
	require.NoError(t, err)
	assert.Equal(t, point.ID, got.ID)
	assert.True(t, point.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, point.DayBucket, got.DayBucket)

	bad := store.Change{Table: store.TableMembers, Row: []byte("{not json")}
	_, err = bad.Member()
	assert.True(t, errors.Is(err, store.ErrMalformedChange))
}
