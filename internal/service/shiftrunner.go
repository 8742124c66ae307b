package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/rs/zerolog"

	"gate-sentinel/internal/config"
	"gate-sentinel/internal/domain/gate"
	"gate-sentinel/internal/metrics"
	"gate-sentinel/internal/repository"
	"gate-sentinel/internal/shift"
)

// FrameSource yields decoded camera frames for the shift detector.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
}

// HTTPFrameSource decodes JPEG/PNG frames fetched over the snapshot
// transport.
type HTTPFrameSource struct {
	fetcher SnapshotFetcher
}

func NewHTTPFrameSource(url string) *HTTPFrameSource {
	return &HTTPFrameSource{fetcher: NewHTTPSnapshotFetcher(url)}
}

func (s *HTTPFrameSource) Frame(ctx context.Context) (image.Image, error) {
	data, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: frame decode: %v", ErrUnavailable, err)
	}
	return img, nil
}

// ShiftRunner drives the camera-shift monitor: it waits out the
// stabilization window, captures a baseline, then samples frames on a
// fixed cadence. Confirmed transitions are persisted and published;
// every fetched frame also counts as camera activity for the
// signal-loss rule.
type ShiftRunner struct {
	monitor   *shift.Monitor
	repo      *repository.GateRepository
	frames    FrameSource
	publisher EventPublisher
	activity  *ActivityTracker
	metrics   *metrics.Metrics
	log       zerolog.Logger
	cfg       *config.ShiftConfig

	resetCh chan struct{}
}

func NewShiftRunner(
	repo *repository.GateRepository,
	frames FrameSource,
	cfg *config.ShiftConfig,
	publisher EventPublisher,
	activity *ActivityTracker,
	m *metrics.Metrics,
	log zerolog.Logger,
) *ShiftRunner {
	monitor := shift.NewMonitor(shift.Thresholds{
		MinInlierRatio:   cfg.MinInlierRatio,
		MaxRotationDeg:   cfg.MaxRotationDeg,
		MaxTranslationPx: cfg.MaxTranslationPx,
		MaxScaleDelta:    cfg.MaxScaleDelta,
		AlertConsecutive: cfg.AlertConsecutive,
		MinKeypoints:     cfg.MinKeypoints,
		CheckEveryFrames: cfg.CheckEveryFrames,
	})
	return &ShiftRunner{
		monitor:   monitor,
		repo:      repo,
		frames:    frames,
		publisher: publisher,
		activity:  activity,
		metrics:   m,
		log:       log,
		cfg:       cfg,
		resetCh:   make(chan struct{}, 1),
	}
}

// ResetBaseline asks the runner to drop the baseline and capture a new
// one after a fresh stabilization window. Duplicate requests collapse.
func (r *ShiftRunner) ResetBaseline() {
	select {
	case r.resetCh <- struct{}{}:
	default:
	}
}

// Status reads the persisted detector state.
func (r *ShiftRunner) Status(ctx context.Context) (*gate.ShiftState, error) {
	state, err := r.repo.GetShiftState(ctx)
	if err != nil {
		return nil, err
	}
	return &gate.ShiftState{
		Phase:                 state.Phase,
		ShiftActive:           state.ShiftActive,
		ConsecutiveViolations: state.ConsecutiveViolations,
		ConsecutiveRecoveries: state.ConsecutiveRecoveries,
		UpdatedAt:             state.UpdatedAt,
	}, nil
}

// RecentEvents lists the latest shift transitions, newest first.
func (r *ShiftRunner) RecentEvents(ctx context.Context, limit int) ([]repository.CameraShiftEvent, error) {
	return r.repo.ListShiftEvents(ctx, limit)
}

// Run blocks until the context is cancelled.
func (r *ShiftRunner) Run(ctx context.Context) {
	if !r.captureBaseline(ctx) {
		return
	}

	ticker := time.NewTicker(r.cfg.SampleInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.resetCh:
			r.log.Info().Msg("camera shift baseline reset requested")
			r.monitor.Reset()
			r.persistState(ctx)
			if !r.captureBaseline(ctx) {
				return
			}
		case <-ticker.C:
			r.sample(ctx)
		}
	}
}

// captureBaseline waits out stabilization and then retries on the
// sample cadence until a frame with enough texture comes in. Returns
// false only when the context ended.
func (r *ShiftRunner) captureBaseline(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(r.cfg.Stabilization()):
	}

	for {
		img, err := r.frames.Frame(ctx)
		if err != nil {
			r.log.Warn().Err(err).Msg("baseline frame fetch failed")
		} else {
			r.activity.Mark()
			keypoints, ok := r.monitor.SetBaseline(img)
			if ok {
				r.log.Info().Int("keypoints", keypoints).Msg("camera shift baseline captured")
				r.persistState(ctx)
				return true
			}
			r.log.Warn().Int("keypoints", keypoints).Msg("baseline rejected: too few keypoints")
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.cfg.SampleInterval()):
		}
	}
}

func (r *ShiftRunner) sample(ctx context.Context) {
	img, err := r.frames.Frame(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("shift frame fetch failed")
		return
	}
	r.activity.Mark()

	measurement, evaluated, changed := r.monitor.Observe(img)
	if !evaluated {
		return
	}
	r.metrics.IncShiftChecks()
	r.log.Debug().
		Float64("rotation_deg", measurement.RotationDeg).
		Float64("translation_px", measurement.TranslationPx).
		Float64("scale_delta", measurement.ScaleDelta).
		Float64("inlier_ratio", measurement.InlierRatio).
		Bool("violating", measurement.Violating).
		Str("reason", measurement.Reason).
		Msg("shift check")

	if !changed {
		r.persistState(ctx)
		return
	}
	r.handleTransition(ctx, measurement)
}

func (r *ShiftRunner) handleTransition(ctx context.Context, measurement *gate.ShiftMeasurement) {
	active := r.monitor.ShiftActive()
	now := time.Now().UTC()

	eventType := gate.EventCameraShiftRecovered
	if active {
		eventType = gate.EventCameraShift
	}
	if err := r.repo.InsertShiftEvent(ctx, &repository.CameraShiftEvent{
		EventTime:     now,
		EventType:     eventType,
		RotationDeg:   measurement.RotationDeg,
		TranslationPx: measurement.TranslationPx,
		ScaleDelta:    measurement.ScaleDelta,
		InlierRatio:   measurement.InlierRatio,
	}); err != nil {
		r.log.Error().Err(err).Msg("shift event insert failed")
	}
	r.persistState(ctx)

	r.publisher.PublishDomainEvent(eventType, map[string]interface{}{
		"rotation_deg":   measurement.RotationDeg,
		"translation_px": measurement.TranslationPx,
		"scale_delta":    measurement.ScaleDelta,
		"inlier_ratio":   measurement.InlierRatio,
		"event_time":     now,
	})
	r.publisher.PublishShiftActive(active)
	r.metrics.SetShiftActive(active)
	if active {
		if err := r.repo.UpsertAlertLastSent(ctx, gate.AlertKeyCameraShift, now); err != nil {
			r.log.Warn().Err(err).Msg("shift alert timestamp update failed")
		}
		r.metrics.IncAlertsSent(gate.AlertKeyCameraShift)
		r.log.Warn().
			Float64("rotation_deg", measurement.RotationDeg).
			Float64("translation_px", measurement.TranslationPx).
			Msg("camera shift confirmed")
	} else {
		r.log.Info().Msg("camera shift recovered")
	}
}

func (r *ShiftRunner) persistState(ctx context.Context) {
	violations, recoveries := r.monitor.Counters()
	if err := r.repo.SaveShiftState(ctx, &repository.CameraShiftState{
		Phase:                 r.monitor.Phase(),
		ShiftActive:           r.monitor.ShiftActive(),
		ConsecutiveViolations: violations,
		ConsecutiveRecoveries: recoveries,
	}); err != nil {
		r.log.Warn().Err(err).Msg("shift state persist failed")
	}
}
