package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gate-sentinel/internal/domain/gate"
)

func newTestTripwire() *Tripwire {
	return NewTripwire(testGateConfig(), testLogger())
}

func TestTripwireAmbiguousOriginNeverFires(t *testing.T) {
	tw := newTestTripwire()

	// Track appears on the inside; no transit was observed, so settling
	// there must not count anyone in.
	direction, side := tw.Observe("t1", 400, "")
	assert.Empty(t, direction)
	assert.Empty(t, side)

	direction, side = tw.Observe("t1", 410, "")
	assert.Empty(t, direction)
	assert.Equal(t, gate.SideRight, side)
}

func TestTripwireCrossingOutAfterDebounce(t *testing.T) {
	tw := newTestTripwire()

	tw.Observe("t1", 400, "")
	tw.Observe("t1", 410, "") // confirmed right (inside)

	// One sample on the far side is jitter, not a crossing.
	direction, side := tw.Observe("t1", 300, "")
	assert.Empty(t, direction)
	assert.Equal(t, gate.SideRight, side)

	direction, side = tw.Observe("t1", 290, "")
	assert.Equal(t, gate.DirectionOut, direction)
	assert.Equal(t, gate.SideLeft, side)
}

func TestTripwireCrossingInFromOutside(t *testing.T) {
	tw := newTestTripwire()

	tw.Observe("t1", 100, "")
	tw.Observe("t1", 120, "") // confirmed left (outside)

	tw.Observe("t1", 350, "")
	direction, _ := tw.Observe("t1", 360, "")
	assert.Equal(t, gate.DirectionIn, direction)
}

func TestTripwireOscillationSuppressed(t *testing.T) {
	tw := newTestTripwire()

	tw.Observe("t1", 400, "")
	tw.Observe("t1", 410, "")

	// Alternating samples never build a streak, so nothing fires.
	for i := 0; i < 10; i++ {
		direction, _ := tw.Observe("t1", 300, "")
		assert.Empty(t, direction)
		direction, _ = tw.Observe("t1", 400, "")
		assert.Empty(t, direction)
	}
}

func TestTripwireRepeatTransitsEachFire(t *testing.T) {
	tw := newTestTripwire()

	tw.Observe("t1", 400, "")
	tw.Observe("t1", 410, "")

	tw.Observe("t1", 300, "")
	direction, _ := tw.Observe("t1", 290, "")
	assert.Equal(t, gate.DirectionOut, direction)

	tw.Observe("t1", 350, "")
	direction, _ = tw.Observe("t1", 360, "")
	assert.Equal(t, gate.DirectionIn, direction)

	tw.Observe("t1", 300, "")
	direction, _ = tw.Observe("t1", 290, "")
	assert.Equal(t, gate.DirectionOut, direction)
}

func TestTripwirePriorSideSurvivesRestart(t *testing.T) {
	tw := newTestTripwire()

	// The persisted side from a previous run seeds the state, so the
	// first full streak on the opposite side is a real crossing.
	direction, _ := tw.Observe("t1", 300, gate.SideRight)
	assert.Empty(t, direction)

	direction, _ = tw.Observe("t1", 290, gate.SideRight)
	assert.Equal(t, gate.DirectionOut, direction)
}

func TestTripwirePriorSideDoesNotRefireSameSide(t *testing.T) {
	tw := newTestTripwire()

	direction, _ := tw.Observe("t1", 400, gate.SideRight)
	assert.Empty(t, direction)
	direction, _ = tw.Observe("t1", 410, gate.SideRight)
	assert.Empty(t, direction)
}

func TestCenterX(t *testing.T) {
	x, ok := CenterX([]float64{100, 50, 40, 80})
	assert.True(t, ok)
	assert.Equal(t, 120.0, x)

	_, ok = CenterX([]float64{100, 50})
	assert.False(t, ok)

	_, ok = CenterX(nil)
	assert.False(t, ok)
}
