package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"gate-sentinel/internal/config"
	"gate-sentinel/internal/domain/gate"
	"gate-sentinel/internal/metrics"
	"gate-sentinel/internal/repository"
)

// GateService owns the gate open/closed state and the safety alerts. The
// gate never transitions autonomously: only explicit commands and the
// external door-inference hint mutate it, and commands apply immediately
// without debounce.
type GateService struct {
	repo      *repository.GateRepository
	log       zerolog.Logger
	cfg       *config.AlertsConfig
	snapshots SnapshotFetcher
	publisher EventPublisher
	activity  *ActivityTracker
	metrics   *metrics.Metrics
}

func NewGateService(
	repo *repository.GateRepository,
	cfg *config.AlertsConfig,
	snapshots SnapshotFetcher,
	publisher EventPublisher,
	activity *ActivityTracker,
	m *metrics.Metrics,
	log zerolog.Logger,
) *GateService {
	return &GateService{
		repo:      repo,
		log:       log,
		cfg:       cfg,
		snapshots: snapshots,
		publisher: publisher,
		activity:  activity,
		metrics:   m,
	}
}

func (s *GateService) Status(ctx context.Context) (*gate.GateState, error) {
	state, err := s.repo.GetGateState(ctx)
	if err != nil {
		return nil, err
	}
	return &gate.GateState{
		GateClosed: state.GateClosed,
		UpdatedAt:  state.UpdatedAt,
		UpdatedBy:  state.UpdatedBy,
	}, nil
}

// SetGate applies a gate command or inference signal immediately.
func (s *GateService) SetGate(ctx context.Context, closed bool, updatedBy string) error {
	if updatedBy != gate.UpdatedBySystem && updatedBy != gate.UpdatedByUserCommand {
		return fmt.Errorf("%w: unknown updated_by %q", ErrInvalidInput, updatedBy)
	}
	if err := s.repo.SetGateState(ctx, closed, updatedBy); err != nil {
		return fmt.Errorf("set gate state: %w", err)
	}
	s.log.Info().Bool("gate_closed", closed).Str("updated_by", updatedBy).Msg("gate state updated")

	counters, err := s.repo.GetCounters(ctx)
	if err == nil {
		s.publisher.PublishState(counters.PeopleCount, counters.VehicleCount, closed)
	}
	return nil
}

func (s *GateService) Alerts(ctx context.Context) ([]gate.AlertState, error) {
	alerts, err := s.repo.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]gate.AlertState, 0, len(alerts))
	for _, a := range alerts {
		result = append(result, gate.AlertState{AlertKey: a.AlertKey, LastSentAt: a.LastSentAt})
	}
	return result, nil
}

// RunAlertLoop evaluates the alert rules on a fixed cadence until the
// context is cancelled.
func (s *GateService) RunAlertLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.EvaluateAlerts(ctx); err != nil {
				s.log.Warn().Err(err).Msg("alert evaluation failed")
			}
		}
	}
}

// EvaluateAlerts runs one alert tick: the no-one-gate-open rule and the
// signal-loss rule, each behind its own cooldown key.
func (s *GateService) EvaluateAlerts(ctx context.Context) error {
	if err := s.evaluateGateOpen(ctx); err != nil {
		return err
	}
	return s.evaluateSignalLoss(ctx)
}

func (s *GateService) evaluateGateOpen(ctx context.Context) error {
	counters, err := s.repo.GetCounters(ctx)
	if err != nil {
		return err
	}
	state, err := s.repo.GetGateState(ctx)
	if err != nil {
		return err
	}
	if state.GateClosed || counters.PeopleCount != 0 {
		return nil
	}

	now := time.Now().UTC()
	if !s.cooldownExpired(ctx, gate.AlertKeyNoOneGateOpen, now) {
		return nil
	}

	// The alert must carry a fresh snapshot. When capture fails, skip and
	// retry on the next tick rather than sending a degraded alert.
	snapshot, err := s.snapshots.Fetch(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("gate alert deferred: snapshot unavailable")
		return nil
	}
	snapshotPath := s.saveSnapshot(snapshot, now)

	event := &repository.GateAlertEvent{
		EventTime:   now,
		GateClosed:  state.GateClosed,
		PeopleCount: counters.PeopleCount,
		Note:        gate.AlertKeyNoOneGateOpen,
	}
	if snapshotPath != "" {
		event.SnapshotPath = &snapshotPath
	}
	if err := s.repo.InsertGateAlertEvent(ctx, event); err != nil {
		return fmt.Errorf("insert gate alert event: %w", err)
	}
	if err := s.repo.UpsertAlertLastSent(ctx, gate.AlertKeyNoOneGateOpen, now); err != nil {
		return fmt.Errorf("update alert cooldown: %w", err)
	}

	s.publisher.PublishDomainEvent(gate.EventGateAlertNoOneOpen, map[string]interface{}{
		"people_count":  counters.PeopleCount,
		"gate_closed":   state.GateClosed,
		"snapshot_path": snapshotPath,
		"event_time":    now,
	})
	s.metrics.IncAlertsSent(gate.AlertKeyNoOneGateOpen)
	s.log.Info().
		Int("people_count", counters.PeopleCount).
		Str("snapshot_path", snapshotPath).
		Msg("gate-open alert sent")
	return nil
}

func (s *GateService) evaluateSignalLoss(ctx context.Context) error {
	idle := time.Since(s.activity.Last())
	if idle < s.cfg.SignalLossWindow() {
		return nil
	}

	now := time.Now().UTC()
	if !s.cooldownExpired(ctx, gate.AlertKeySignalLoss, now) {
		return nil
	}
	if err := s.repo.UpsertAlertLastSent(ctx, gate.AlertKeySignalLoss, now); err != nil {
		return fmt.Errorf("update alert cooldown: %w", err)
	}

	s.publisher.PublishDomainEvent(gate.EventSignalLoss, map[string]interface{}{
		"idle_seconds": idle.Seconds(),
		"event_time":   now,
	})
	s.metrics.IncAlertsSent(gate.AlertKeySignalLoss)
	s.log.Warn().Dur("idle", idle).Msg("signal loss alert sent")
	return nil
}

func (s *GateService) cooldownExpired(ctx context.Context, alertKey string, now time.Time) bool {
	lastSent, err := s.repo.GetAlertLastSent(ctx, alertKey)
	if err != nil {
		s.log.Warn().Err(err).Str("alert_key", alertKey).Msg("alert cooldown read failed")
		return false
	}
	return lastSent == nil || now.Sub(*lastSent) >= s.cfg.Cooldown()
}

func (s *GateService) saveSnapshot(data []byte, now time.Time) string {
	if s.cfg.SnapshotDir == "" {
		return ""
	}
	if err := os.MkdirAll(s.cfg.SnapshotDir, 0o755); err != nil {
		s.log.Warn().Err(err).Msg("snapshot directory create failed")
		return ""
	}
	path := filepath.Join(s.cfg.SnapshotDir, fmt.Sprintf("gate_alert_%s.jpg", now.Format("20060102T150405Z")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.Warn().Err(err).Msg("snapshot save failed")
		return ""
	}
	return path
}
