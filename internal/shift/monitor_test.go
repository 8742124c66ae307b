package shift

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-sentinel/internal/domain/gate"
)

// patternAt is a deterministic block texture: 8x8 cells with
// pseudo-random intensities, rich in corners for the detector.
func patternAt(x, y int) uint8 {
	bx, by := x/8, y/8
	v := bx*73 + by*151 + bx*by*31 + (bx^by)*97
	return uint8(v % 256)
}

// patternImage renders the texture shifted by (dx, dy), so two renders
// with different offsets are exact translations of each other.
func patternImage(dx, dy int) *image.Gray {
	const w, h = 640, 480
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: patternAt(x+dx, y+dy)})
		}
	}
	return img
}

func testThresholds() Thresholds {
	return Thresholds{
		MinInlierRatio:   0.18,
		MaxRotationDeg:   3.5,
		MaxTranslationPx: 18,
		MaxScaleDelta:    0.08,
		AlertConsecutive: 3,
		MinKeypoints:     20,
		CheckEveryFrames: 1,
	}
}

func TestDetectAndDescribeFindsCorners(t *testing.T) {
	features := DetectAndDescribe(patternImage(0, 0), 400)
	// Enough for a baseline capture under the default keypoint floor.
	assert.Greater(t, len(features), 80)

	// Scores come strongest first.
	for i := 1; i < len(features); i++ {
		assert.GreaterOrEqual(t, features[i-1].Score, features[i].Score)
	}
}

func TestMatchFeaturesOnIdenticalFrames(t *testing.T) {
	features := DetectAndDescribe(patternImage(0, 0), 400)
	require.NotEmpty(t, features)

	matches := MatchFeatures(features, features)
	assert.GreaterOrEqual(t, len(matches), minGoodMatches)
	for _, m := range matches {
		assert.Equal(t, m.BaselineIdx, m.CurrentIdx)
		assert.Equal(t, 0, m.Distance)
	}
}

func TestMonitorBaselineRejectsBlankFrame(t *testing.T) {
	monitor := NewMonitor(testThresholds())

	blank := image.NewGray(image.Rect(0, 0, 640, 480))
	_, ok := monitor.SetBaseline(blank)
	assert.False(t, ok)
	assert.Equal(t, gate.ShiftPhaseStabilizing, monitor.Phase())

	keypoints, ok := monitor.SetBaseline(patternImage(0, 0))
	assert.True(t, ok)
	assert.Greater(t, keypoints, 20)
	assert.Equal(t, gate.ShiftPhaseBaselineCaptured, monitor.Phase())
}

func TestMonitorNominalOnSteadyFrames(t *testing.T) {
	monitor := NewMonitor(testThresholds())
	_, ok := monitor.SetBaseline(patternImage(0, 0))
	require.True(t, ok)

	measurement, evaluated, changed := monitor.Observe(patternImage(0, 0))
	require.True(t, evaluated)
	assert.False(t, changed)
	require.NotNil(t, measurement)
	assert.False(t, measurement.Violating)
	assert.Less(t, measurement.TranslationPx, 3.0)
	assert.Equal(t, gate.ShiftPhaseNominal, monitor.Phase())
	assert.False(t, monitor.ShiftActive())
}

func TestMonitorConfirmsShiftAfterConsecutiveViolations(t *testing.T) {
	monitor := NewMonitor(testThresholds())
	_, ok := monitor.SetBaseline(patternImage(0, 0))
	require.True(t, ok)

	shifted := patternImage(32, 0)

	// Two violating frames are not yet a confirmed shift.
	for i := 0; i < 2; i++ {
		measurement, evaluated, changed := monitor.Observe(shifted)
		require.True(t, evaluated)
		require.NotNil(t, measurement)
		assert.True(t, measurement.Violating, "reason=%s", measurement.Reason)
		assert.False(t, changed)
		assert.False(t, monitor.ShiftActive())
	}

	_, evaluated, changed := monitor.Observe(shifted)
	require.True(t, evaluated)
	assert.True(t, changed)
	assert.True(t, monitor.ShiftActive())
	assert.Equal(t, gate.ShiftPhaseShifted, monitor.Phase())
}

func TestMonitorRecoveryNeedsConsecutiveGoodFrames(t *testing.T) {
	monitor := NewMonitor(testThresholds())
	_, ok := monitor.SetBaseline(patternImage(0, 0))
	require.True(t, ok)

	shifted := patternImage(32, 0)
	steady := patternImage(0, 0)

	for i := 0; i < 3; i++ {
		monitor.Observe(shifted)
	}
	require.True(t, monitor.ShiftActive())

	// A brief good frame is not a recovery on its own.
	_, _, changed := monitor.Observe(steady)
	assert.False(t, changed)
	_, _, changed = monitor.Observe(steady)
	assert.False(t, changed)

	_, _, changed = monitor.Observe(steady)
	assert.True(t, changed)
	assert.False(t, monitor.ShiftActive())
	assert.Equal(t, gate.ShiftPhaseNominal, monitor.Phase())
}

func TestMonitorViolationStreakResetByGoodFrame(t *testing.T) {
	monitor := NewMonitor(testThresholds())
	_, ok := monitor.SetBaseline(patternImage(0, 0))
	require.True(t, ok)

	shifted := patternImage(32, 0)
	steady := patternImage(0, 0)

	monitor.Observe(shifted)
	monitor.Observe(shifted)
	monitor.Observe(steady) // breaks the streak
	monitor.Observe(shifted)
	monitor.Observe(shifted)

	assert.False(t, monitor.ShiftActive())
}

func TestMonitorInconclusiveFrameResetsStreaks(t *testing.T) {
	monitor := NewMonitor(testThresholds())
	_, ok := monitor.SetBaseline(patternImage(0, 0))
	require.True(t, ok)

	shifted := patternImage(32, 0)
	blank := image.NewGray(image.Rect(0, 0, 640, 480))

	monitor.Observe(shifted)
	monitor.Observe(shifted)

	// A blank frame proves nothing either way and resets the count.
	measurement, evaluated, changed := monitor.Observe(blank)
	require.True(t, evaluated)
	assert.False(t, changed)
	assert.Equal(t, "insufficient_keypoints", measurement.Reason)
	assert.False(t, measurement.Violating)

	monitor.Observe(shifted)
	monitor.Observe(shifted)
	assert.False(t, monitor.ShiftActive())
}

func TestMonitorCheckEveryFramesSkipsCheaply(t *testing.T) {
	cfg := testThresholds()
	cfg.CheckEveryFrames = 4
	monitor := NewMonitor(cfg)
	_, ok := monitor.SetBaseline(patternImage(0, 0))
	require.True(t, ok)

	steady := patternImage(0, 0)
	for i := 0; i < 3; i++ {
		_, evaluated, _ := monitor.Observe(steady)
		assert.False(t, evaluated)
	}
	_, evaluated, _ := monitor.Observe(steady)
	assert.True(t, evaluated)
}

func TestMonitorReset(t *testing.T) {
	monitor := NewMonitor(testThresholds())
	_, ok := monitor.SetBaseline(patternImage(0, 0))
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		monitor.Observe(patternImage(32, 0))
	}
	require.True(t, monitor.ShiftActive())

	monitor.Reset()
	assert.False(t, monitor.ShiftActive())
	assert.Equal(t, gate.ShiftPhaseStabilizing, monitor.Phase())

	// Without a baseline no frames are evaluated.
	_, evaluated, _ := monitor.Observe(patternImage(0, 0))
	assert.False(t, evaluated)
}
