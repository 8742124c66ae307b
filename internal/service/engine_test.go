package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-sentinel/internal/domain/gate"
)

type engineFixture struct {
	engine    *Engine
	ledger    *Ledger
	sessions  *SessionManager
	occupancy *OccupancyLog
	publisher *capturePublisher
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	repo := newTestRepo(t)
	gateCfg := testGateConfig()
	m := newTestMetrics()
	publisher := &capturePublisher{}

	tripwire := NewTripwire(gateCfg, testLogger())
	ledger := NewLedger(repo, gateCfg.DedupeWindow(), m, testLogger())
	sessions := NewSessionManager(repo, testSessionsConfig(), gateCfg.DedupeWindow(), testLogger())
	occupancy := NewOccupancyLog(repo, testSessionsConfig(), testLogger())
	engine := NewEngine(repo, tripwire, ledger, sessions, occupancy, publisher, NewActivityTracker(), gateCfg, m, testLogger())

	return &engineFixture{
		engine:    engine,
		ledger:    ledger,
		sessions:  sessions,
		occupancy: occupancy,
		publisher: publisher,
	}
}

func trackEvent(key, label, direction string, at time.Time) gate.TrackEventPayload {
	return gate.TrackEventPayload{
		TrackKey:  key,
		Label:     label,
		CameraID:  "cam1",
		Direction: direction,
		EventTime: at,
	}
}

func TestEngineRejectsMissingIdentity(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	_, err := f.engine.Process(ctx, gate.TrackEventPayload{Label: "person", CameraID: "cam1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.engine.Process(ctx, gate.TrackEventPayload{TrackKey: "t1", Label: "person"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEngineIgnoresUnknownLabels(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	result, err := f.engine.Process(ctx, trackEvent("t1", "bicycle", gate.DirectionIn, time.Now().UTC()))
	require.NoError(t, err)
	assert.False(t, result.Committed)

	counters, err := f.ledger.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counters.PeopleCount)
}

func TestEngineExplicitDirectionCounts(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	base := time.Now().UTC()

	result, err := f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionIn, base))
	require.NoError(t, err)
	assert.True(t, result.Committed)
	require.Len(t, result.Events, 1)
	assert.Equal(t, 1, result.Events[0].ResultingCount)
	assert.Equal(t, gate.SourceTracker, result.Events[0].Source)

	assert.Contains(t, f.publisher.eventTypes(), gate.EventPersonIn)
}

func TestEngineDuplicateDirectionSkipped(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	base := time.Now().UTC()

	_, err := f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionIn, base))
	require.NoError(t, err)

	// Same track, same direction: the counted flag blocks a re-count.
	result, err := f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionIn, base.Add(time.Second)))
	require.NoError(t, err)
	assert.False(t, result.Committed)

	counters, err := f.ledger.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.PeopleCount)
}

func TestEngineRoundTripCountsBothLegs(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	base := time.Now().UTC()

	_, err := f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionIn, base))
	require.NoError(t, err)

	result, err := f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionOut, base.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, result.Committed)

	// The out-crossing cleared the in flag, so a later return counts.
	result, err = f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionIn, base.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.True(t, result.Committed)

	counters, err := f.ledger.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.PeopleCount)
}

func TestEngineVirtualGateCrossing(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	base := time.Now().UTC()

	observe := func(key string, x float64, at time.Time) *gate.ProcessResult {
		result, err := f.engine.Process(ctx, gate.TrackEventPayload{
			TrackKey:  key,
			Label:     "person",
			CameraID:  "cam1",
			Box:       []float64{x - 20, 100, 40, 80},
			EventTime: at,
		})
		require.NoError(t, err)
		return result
	}

	// Appear and settle outside, then cross to the inside.
	assert.False(t, observe("p1", 100, base).Committed)
	assert.False(t, observe("p1", 110, base.Add(time.Second)).Committed)
	assert.False(t, observe("p1", 400, base.Add(2*time.Second)).Committed)

	result := observe("p1", 410, base.Add(3*time.Second))
	assert.True(t, result.Committed)
	assert.Equal(t, gate.DirectionIn, result.Direction)
	require.Len(t, result.Events, 1)
	assert.Equal(t, gate.SourceVirtual, result.Events[0].Source)

	counters, err := f.ledger.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.PeopleCount)
}

func TestEngineVirtualGateAmbiguousOrigin(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	base := time.Now().UTC()

	// A person first seen inside settles there without counting.
	for i := 0; i < 4; i++ {
		result, err := f.engine.Process(ctx, gate.TrackEventPayload{
			TrackKey:  "p1",
			Label:     "person",
			CameraID:  "cam1",
			Box:       []float64{380, 100, 40, 80},
			EventTime: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		assert.False(t, result.Committed)
	}

	counters, err := f.ledger.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counters.PeopleCount)
}

func TestEngineVehicleExitFlow(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	base := time.Now().UTC()

	// Seed: two people and a vehicle inside.
	_, err := f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionIn, base))
	require.NoError(t, err)
	_, err = f.engine.Process(ctx, trackEvent("p2", "person", gate.DirectionIn, base.Add(time.Second)))
	require.NoError(t, err)
	_, err = f.engine.Process(ctx, trackEvent("v1", "car", gate.DirectionIn, base.Add(2*time.Second)))
	require.NoError(t, err)

	// Vehicle leaves: vehicle counter drops and the assumed driver is
	// deducted in the same commit.
	result, err := f.engine.Process(ctx, trackEvent("v1", "car", gate.DirectionOut, base.Add(time.Minute)))
	require.NoError(t, err)
	require.Len(t, result.Events, 2)
	assert.Equal(t, gate.LabelVehicle, result.Events[0].Label)
	assert.Equal(t, gate.LabelPerson, result.Events[1].Label)
	assert.Equal(t, "driver_exit_assumed_right", result.Events[1].Note)

	counters, err := f.ledger.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.PeopleCount)
	assert.Equal(t, 0, counters.VehicleCount)

	active, err := f.sessions.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "v1", active[0].VehicleTrackKey)

	// A person exiting shortly after is a passenger of that departure.
	result, err = f.engine.Process(ctx, trackEvent("p2", "person", gate.DirectionOut, base.Add(time.Minute+5*time.Second)))
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "left_side_exit_after_vehicle", result.Events[0].Note)

	counters, err = f.ledger.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counters.PeopleCount)

	attributions, err := f.sessions.Attributions(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, attributions)
}

func TestEngineDuplicateExitDoesNotConsumeSessionAgain(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	base := time.Now().UTC()

	_, err := f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionIn, base))
	require.NoError(t, err)
	_, err = f.engine.Process(ctx, trackEvent("p2", "person", gate.DirectionIn, base.Add(time.Second)))
	require.NoError(t, err)
	_, err = f.engine.Process(ctx, trackEvent("v1", "car", gate.DirectionIn, base.Add(2*time.Second)))
	require.NoError(t, err)
	_, err = f.engine.Process(ctx, trackEvent("v1", "car", gate.DirectionOut, base.Add(time.Minute)))
	require.NoError(t, err)

	// First person-out consumes one session decrement.
	result, err := f.engine.Process(ctx, trackEvent("p2", "person", gate.DirectionOut, base.Add(65*time.Second)))
	require.NoError(t, err)
	require.True(t, result.Committed)
	assert.Equal(t, "left_side_exit_after_vehicle", result.Events[0].Note)

	_, err = f.engine.Process(ctx, trackEvent("p2", "person", gate.DirectionIn, base.Add(67*time.Second)))
	require.NoError(t, err)

	// The repeat out lands inside the dedupe window: no count, no second
	// session decrement, no republish.
	result, err = f.engine.Process(ctx, trackEvent("p2", "person", gate.DirectionOut, base.Add(69*time.Second)))
	require.NoError(t, err)
	assert.False(t, result.Committed)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "left_side_exit_after_vehicle", result.Events[0].Note)

	active, err := f.sessions.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].LeftPersonDecrements)

	outs := 0
	for _, eventType := range f.publisher.eventTypes() {
		if eventType == gate.EventPersonOut {
			outs++
		}
	}
	assert.Equal(t, 1, outs)
}

func TestEngineRecordsOccupancySessions(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	base := time.Now().UTC()

	_, err := f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionIn, base))
	require.NoError(t, err)

	people, err := f.occupancy.PersonSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "p1", people[0].PersonKey)
	assert.Nil(t, people[0].ExitedAt)

	_, err = f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionOut, base.Add(time.Minute)))
	require.NoError(t, err)

	people, err = f.occupancy.PersonSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, people, 1)
	require.NotNil(t, people[0].ExitedAt)

	// A vehicle returning gets its time outside stamped on the session it
	// closed on the way out.
	_, err = f.engine.Process(ctx, trackEvent("v1", "car", gate.DirectionIn, base))
	require.NoError(t, err)
	_, err = f.engine.Process(ctx, trackEvent("v1", "car", gate.DirectionOut, base.Add(time.Minute)))
	require.NoError(t, err)
	_, err = f.engine.Process(ctx, trackEvent("v1", "car", gate.DirectionIn, base.Add(2*time.Minute)))
	require.NoError(t, err)

	vehicles, err := f.occupancy.VehicleSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, vehicles, 2)
	require.NotNil(t, vehicles[1].TimeOutsideSeconds)
	assert.Equal(t, 60, *vehicles[1].TimeOutsideSeconds)
	assert.Nil(t, vehicles[0].ExitedAt)
}

func TestEnginePersonOutWithoutSessionIsPlain(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	base := time.Now().UTC()

	_, err := f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionIn, base))
	require.NoError(t, err)

	result, err := f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionOut, base.Add(time.Minute)))
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "person_out", result.Events[0].Note)
}

func TestEnginePublishesRetainedState(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	_, err := f.engine.Process(ctx, trackEvent("p1", "person", gate.DirectionIn, time.Now().UTC()))
	require.NoError(t, err)

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	require.NotEmpty(t, f.publisher.states)
	last := f.publisher.states[len(f.publisher.states)-1]
	assert.Equal(t, 1, last.People)
	assert.Equal(t, 0, last.Vehicles)
	assert.False(t, last.GateClosed)
}
