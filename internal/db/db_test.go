package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-sentinel/internal/config"
	"gate-sentinel/internal/repository"
)

func openTestDB(t *testing.T) *repository.GateRepository {
	t.Helper()
	conn, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	return repository.NewGateRepository(conn)
}

// The seed rows are written with CURRENT_TIMESTAMP, so reading them back
// proves the sqlite timestamp columns scan into time.Time.
func TestSqliteSeedTimestampsScan(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	counters, err := repo.GetCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counters.PeopleCount)
	assert.Equal(t, 0, counters.VehicleCount)
	assert.False(t, counters.UpdatedAt.IsZero())

	gateState, err := repo.GetGateState(ctx)
	require.NoError(t, err)
	assert.False(t, gateState.GateClosed)
	assert.False(t, gateState.UpdatedAt.IsZero())
}

func TestSqliteEventTimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)
	at := time.Date(2026, 8, 27, 10, 30, 0, 0, time.UTC)

	require.NoError(t, repo.InsertCounterEvent(ctx, &repository.CounterEvent{
		EventTime:      at,
		Label:          "person",
		Direction:      "in",
		Delta:          1,
		ResultingCount: 1,
		TrackKey:       "t1",
		Source:         "tracker",
	}))

	events, err := repo.ListCounterEvents(ctx, nil, nil, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].EventTime.Equal(at))

	// The window query compares against the stored time.
	prior, err := repo.LastCounterEventFor(ctx, "person", "in", "t1", at.Add(-15*time.Second))
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, "t1", prior.TrackKey)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	cfg := &config.DatabaseConfig{Driver: "sqlite", Path: path}

	_, err := Open(cfg)
	require.NoError(t, err)
	_, err = Open(cfg)
	require.NoError(t, err)
}
