package shift

import (
	"image"
	"math"
	"sync"

	"gate-sentinel/internal/domain/gate"
)

const defaultMaxFeatures = 400

// Thresholds are the tuned limits one comparison is judged against.
type Thresholds struct {
	MinInlierRatio   float64
	MaxRotationDeg   float64
	MaxTranslationPx float64
	MaxScaleDelta    float64
	AlertConsecutive int
	MinKeypoints     int
	CheckEveryFrames int
	MaxFeatures      int
}

// Monitor compares incoming frames against a captured baseline and flags
// a sustained shift only after AlertConsecutive violating comparisons in
// a row; recovery is confirmed the same way. Frames with too few
// keypoints or matches are inconclusive: they reset both streaks without
// counting toward either.
type Monitor struct {
	mu       sync.Mutex
	cfg      Thresholds
	phase    string
	baseline []Feature

	frameCount  int
	violations  int
	recoveries  int
	shiftActive bool
}

func NewMonitor(cfg Thresholds) *Monitor {
	if cfg.CheckEveryFrames < 1 {
		cfg.CheckEveryFrames = 1
	}
	if cfg.AlertConsecutive < 1 {
		cfg.AlertConsecutive = 1
	}
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = defaultMaxFeatures
	}
	return &Monitor{cfg: cfg, phase: gate.ShiftPhaseStabilizing}
}

func (m *Monitor) Phase() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Monitor) ShiftActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shiftActive
}

func (m *Monitor) Counters() (violations, recoveries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.violations, m.recoveries
}

// SetBaseline captures the reference frame. It refuses frames without
// enough texture so a blurred or obstructed start never becomes the
// reference, and returns how many keypoints were kept.
func (m *Monitor) SetBaseline(img image.Image) (int, bool) {
	features := DetectAndDescribe(img, m.cfg.MaxFeatures)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(features) < m.cfg.MinKeypoints {
		return len(features), false
	}
	m.baseline = features
	m.phase = gate.ShiftPhaseBaselineCaptured
	m.frameCount = 0
	m.violations = 0
	m.recoveries = 0
	m.shiftActive = false
	return len(features), true
}

// Reset drops the baseline; the caller is expected to capture a new one.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline = nil
	m.phase = gate.ShiftPhaseStabilizing
	m.frameCount = 0
	m.violations = 0
	m.recoveries = 0
	m.shiftActive = false
}

// Observe feeds one live frame. Most frames are skipped cheaply: only
// every CheckEveryFrames-th frame is compared against the baseline.
// evaluated reports whether a comparison ran; changed reports a
// confirmed transition into or out of the shifted state.
func (m *Monitor) Observe(img image.Image) (measurement *gate.ShiftMeasurement, evaluated, changed bool) {
	m.mu.Lock()
	if m.baseline == nil {
		m.mu.Unlock()
		return nil, false, false
	}
	m.frameCount++
	if m.frameCount%m.cfg.CheckEveryFrames != 0 {
		m.mu.Unlock()
		return nil, false, false
	}
	baseline := m.baseline
	m.mu.Unlock()

	// Feature extraction runs outside the lock.
	result := compare(baseline, img, m.cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	changed = m.applyMeasurement(result)
	return result, true, changed
}

// compare runs one full baseline comparison and judges it against the
// thresholds.
func compare(baseline []Feature, img image.Image, cfg Thresholds) *gate.ShiftMeasurement {
	current := DetectAndDescribe(img, cfg.MaxFeatures)
	if len(current) < cfg.MinKeypoints {
		return &gate.ShiftMeasurement{Reason: "insufficient_keypoints"}
	}

	matches := MatchFeatures(baseline, current)
	if len(matches) < minGoodMatches {
		return &gate.ShiftMeasurement{Reason: "insufficient_matches"}
	}

	src := make([]Point, len(matches))
	dst := make([]Point, len(matches))
	for i, match := range matches {
		src[i] = Point{X: baseline[match.BaselineIdx].X, Y: baseline[match.BaselineIdx].Y}
		dst[i] = Point{X: current[match.CurrentIdx].X, Y: current[match.CurrentIdx].Y}
	}

	model, inlierRatio, ok := EstimateSimilarity(src, dst)
	if !ok {
		return &gate.ShiftMeasurement{Reason: "estimation_failed"}
	}

	measurement := &gate.ShiftMeasurement{
		RotationDeg:   model.RotationDeg(),
		TranslationPx: model.TranslationPx(),
		ScaleDelta:    model.ScaleDelta(),
		InlierRatio:   inlierRatio,
	}
	switch {
	case inlierRatio < cfg.MinInlierRatio:
		measurement.Violating = true
		measurement.Reason = "low_inlier_ratio"
	case math.Abs(measurement.RotationDeg) > cfg.MaxRotationDeg:
		measurement.Violating = true
		measurement.Reason = "rotation_exceeded"
	case measurement.TranslationPx > cfg.MaxTranslationPx:
		measurement.Violating = true
		measurement.Reason = "translation_exceeded"
	case measurement.ScaleDelta > cfg.MaxScaleDelta:
		measurement.Violating = true
		measurement.Reason = "scale_exceeded"
	}
	return measurement
}

// applyMeasurement advances the streaks and reports whether the shifted
// state flipped. Caller holds the lock.
func (m *Monitor) applyMeasurement(measurement *gate.ShiftMeasurement) bool {
	// Inconclusive comparisons carry a reason but no verdict either way.
	if !measurement.Violating && measurement.Reason != "" {
		m.violations = 0
		m.recoveries = 0
		return false
	}

	if measurement.Violating {
		m.violations++
		m.recoveries = 0
		if !m.shiftActive && m.violations >= m.cfg.AlertConsecutive {
			m.shiftActive = true
			m.phase = gate.ShiftPhaseShifted
			return true
		}
		return false
	}

	m.violations = 0
	if m.phase == gate.ShiftPhaseBaselineCaptured {
		m.phase = gate.ShiftPhaseNominal
	}
	if m.shiftActive {
		m.recoveries++
		if m.recoveries >= m.cfg.AlertConsecutive {
			m.shiftActive = false
			m.phase = gate.ShiftPhaseNominal
			m.recoveries = 0
			return true
		}
	}
	return false
}
