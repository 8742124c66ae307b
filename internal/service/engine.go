package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gate-sentinel/internal/config"
	"gate-sentinel/internal/domain/gate"
	"gate-sentinel/internal/metrics"
	"gate-sentinel/internal/repository"
)

// ActivityTracker records when the last frame or track event arrived.
// The gate service reads it to detect signal loss.
type ActivityTracker struct {
	last atomic.Int64
}

func NewActivityTracker() *ActivityTracker {
	t := &ActivityTracker{}
	t.Mark()
	return t
}

func (t *ActivityTracker) Mark() {
	t.last.Store(time.Now().UnixNano())
}

func (t *ActivityTracker) Last() time.Time {
	return time.Unix(0, t.last.Load())
}

// Engine converts raw track events into committed counter mutations,
// exit sessions and attributions. Process is the single entry point;
// arrival order is preserved by the internal mutex.
type Engine struct {
	repo      *repository.GateRepository
	tripwire  *Tripwire
	ledger    *Ledger
	sessions  *SessionManager
	occupancy *OccupancyLog
	publisher EventPublisher
	activity  *ActivityTracker
	metrics   *metrics.Metrics
	log       zerolog.Logger
	gateCfg   *config.GateConfig

	mu sync.Mutex
}

func NewEngine(
	repo *repository.GateRepository,
	tripwire *Tripwire,
	ledger *Ledger,
	sessions *SessionManager,
	occupancy *OccupancyLog,
	publisher EventPublisher,
	activity *ActivityTracker,
	gateCfg *config.GateConfig,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		repo:      repo,
		tripwire:  tripwire,
		ledger:    ledger,
		sessions:  sessions,
		occupancy: occupancy,
		publisher: publisher,
		activity:  activity,
		metrics:   m,
		log:       log,
		gateCfg:   gateCfg,
	}
}

// normalizeLabel maps detector classes onto the two counted labels.
// Unknown labels are ignored rather than rejected.
func normalizeLabel(label string) string {
	switch label {
	case "person":
		return gate.LabelPerson
	case "vehicle", "car", "truck":
		return gate.LabelVehicle
	default:
		return ""
	}
}

// Process handles one track event end to end. Events with unknown labels
// or no resolvable crossing return a result with Committed=false; data
// problems are handled locally and never surface as hard failures.
func (e *Engine) Process(ctx context.Context, payload gate.TrackEventPayload) (*gate.ProcessResult, error) {
	if payload.TrackKey == "" {
		return nil, fmt.Errorf("%w: track_key is required", ErrInvalidInput)
	}
	if payload.CameraID == "" {
		return nil, fmt.Errorf("%w: camera_id is required", ErrInvalidInput)
	}
	if payload.EventTime.IsZero() {
		payload.EventTime = time.Now().UTC()
	}

	e.activity.Mark()
	e.metrics.IncTrackEvents()

	label := normalizeLabel(payload.Label)
	if label == "" {
		e.log.Debug().Str("label", payload.Label).Str("track_key", payload.TrackKey).Msg("ignoring unknown label")
		return &gate.ProcessResult{TrackKey: payload.TrackKey, Label: payload.Label}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result := &gate.ProcessResult{TrackKey: payload.TrackKey, Label: label}

	direction, source, err := e.resolveDirection(ctx, payload)
	if err != nil {
		return nil, err
	}
	if direction == "" {
		return result, nil
	}
	result.Direction = direction

	track, err := e.repo.GetTrack(ctx, payload.TrackKey)
	if err != nil {
		return nil, fmt.Errorf("track lookup: %w", err)
	}
	if track != nil && alreadyCounted(track, direction) {
		e.log.Debug().
			Str("track_key", payload.TrackKey).
			Str("direction", direction).
			Msg("track already counted for direction, skipping")
		return result, nil
	}

	// The duplicate decision comes before any side effect: a crossing
	// inside the dedupe window must not consume a session decrement,
	// open a session or republish.
	prior, err := e.ledger.PriorEvent(ctx, label, direction, payload.TrackKey, payload.EventTime)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		e.metrics.IncDedupeRejections()
		e.log.Debug().
			Str("track_key", payload.TrackKey).
			Str("direction", direction).
			Msg("duplicate crossing inside dedupe window, returning prior event")
		result.Events = []gate.CounterEvent{*prior}
		return result, nil
	}

	events, err := e.commitCrossing(ctx, label, direction, source, payload)
	if err != nil {
		return nil, err
	}
	result.Committed = true
	result.Events = events

	e.occupancy.RecordCrossing(ctx, label, direction, payload.TrackKey, payload.CameraID, source, payload.EventTime)

	if err := e.repo.MarkTrackCounted(ctx, payload.TrackKey, direction); err != nil {
		e.log.Warn().Err(err).Str("track_key", payload.TrackKey).Msg("mark track counted failed")
	}
	// A settled track returning across the line starts a fresh transit.
	if err := e.repo.ClearTrackCounted(ctx, payload.TrackKey, oppositeDirection(direction)); err != nil {
		e.log.Warn().Err(err).Str("track_key", payload.TrackKey).Msg("clear opposite counted flag failed")
	}

	e.publishState(ctx)
	return result, nil
}

// resolveDirection prefers an upstream-decided direction; otherwise the
// tripwire evaluates the box center against the gate line.
func (e *Engine) resolveDirection(ctx context.Context, payload gate.TrackEventPayload) (direction, source string, err error) {
	label := normalizeLabel(payload.Label)

	if payload.Direction == gate.DirectionIn || payload.Direction == gate.DirectionOut {
		if upErr := e.repo.UpsertTrack(ctx, payload.TrackKey, label, nil); upErr != nil {
			return "", "", fmt.Errorf("track upsert: %w", upErr)
		}
		return payload.Direction, gate.SourceTracker, nil
	}

	centerX, ok := CenterX(payload.Box)
	if !ok {
		return "", "", nil
	}

	priorSide := ""
	track, err := e.repo.GetTrack(ctx, payload.TrackKey)
	if err != nil {
		return "", "", fmt.Errorf("track lookup: %w", err)
	}
	if track != nil && track.LastSide != nil {
		priorSide = *track.LastSide
	}

	direction, confirmedSide := e.tripwire.Observe(payload.TrackKey, centerX, priorSide)

	var sidePtr *string
	if confirmedSide != "" {
		sidePtr = &confirmedSide
	}
	if err := e.repo.UpsertTrack(ctx, payload.TrackKey, label, sidePtr); err != nil {
		return "", "", fmt.Errorf("track upsert: %w", err)
	}
	return direction, gate.SourceVirtual, nil
}

// commitCrossing applies the ledger deltas and side effects for one
// committed crossing, mirroring the per-direction flow the counters need.
func (e *Engine) commitCrossing(ctx context.Context, label, direction, source string, payload gate.TrackEventPayload) ([]gate.CounterEvent, error) {
	var events []gate.CounterEvent

	switch {
	case label == gate.LabelPerson && direction == gate.DirectionIn:
		event, err := e.ledger.Apply(ctx, gate.LabelPerson, gate.DirectionIn, payload.TrackKey, source, "person_in", payload.EventTime)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
		e.publisher.PublishDomainEvent(gate.EventPersonIn, event)

	case label == gate.LabelPerson && direction == gate.DirectionOut:
		sessionID, consumed, err := e.sessions.ConsumeLeftExit(ctx)
		if err != nil {
			return nil, err
		}
		note := "person_out"
		if consumed {
			note = "left_side_exit_after_vehicle"
		}
		event, err := e.ledger.Apply(ctx, gate.LabelPerson, gate.DirectionOut, payload.TrackKey, source, note, payload.EventTime)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
		e.publisher.PublishDomainEvent(gate.EventPersonOut, event)
		if consumed {
			e.log.Info().
				Str("session_id", sessionID).
				Str("track_key", payload.TrackKey).
				Msg("person exit attributed to vehicle-exit session")
		}

	case label == gate.LabelVehicle && direction == gate.DirectionIn:
		event, err := e.ledger.Apply(ctx, gate.LabelVehicle, gate.DirectionIn, payload.TrackKey, source, "vehicle_in", payload.EventTime)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
		e.publisher.PublishDomainEvent(gate.EventVehicleIn, event)
		if _, err := e.sessions.AttributeDriver(ctx, gate.DirectionIn, payload.TrackKey, "", payload.EventTime); err != nil {
			e.log.Warn().Err(err).Str("track_key", payload.TrackKey).Msg("driver attribution failed")
		}

	case label == gate.LabelVehicle && direction == gate.DirectionOut:
		vehicleEvent, err := e.ledger.Apply(ctx, gate.LabelVehicle, gate.DirectionOut, payload.TrackKey, source, "vehicle_out", payload.EventTime)
		if err != nil {
			return nil, err
		}
		events = append(events, *vehicleEvent)
		e.publisher.PublishDomainEvent(gate.EventVehicleOut, vehicleEvent)

		// The driver leaves with the vehicle; deduct one person
		// immediately, attributed to the right-hand seat convention.
		driverEvent, err := e.ledger.Apply(ctx, gate.LabelPerson, gate.DirectionOut, payload.TrackKey, source, "driver_exit_assumed_right", payload.EventTime)
		if err != nil {
			return nil, err
		}
		events = append(events, *driverEvent)

		session, err := e.sessions.OpenExitSession(ctx, payload.CameraID, payload.TrackKey)
		if err != nil {
			e.log.Warn().Err(err).Str("track_key", payload.TrackKey).Msg("open exit session failed")
		}
		sessionID := ""
		if session != nil {
			sessionID = session.SessionID
		}
		if _, err := e.sessions.AttributeDriver(ctx, gate.DirectionOut, payload.TrackKey, sessionID, payload.EventTime); err != nil {
			e.log.Warn().Err(err).Str("track_key", payload.TrackKey).Msg("driver attribution failed")
		}
	}

	return events, nil
}

func (e *Engine) publishState(ctx context.Context) {
	counters, err := e.repo.GetCounters(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("counter read for state publish failed")
		return
	}
	gateState, err := e.repo.GetGateState(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("gate state read for state publish failed")
		return
	}
	e.publisher.PublishState(counters.PeopleCount, counters.VehicleCount, gateState.GateClosed)
}

// SweepTracks evicts per-track rows that have not been updated within the
// TTL. Called from the periodic background sweep.
func (e *Engine) SweepTracks(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-e.gateCfg.TrackTTL())
	removed, err := e.repo.DeleteStaleTracks(ctx, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		e.log.Debug().Int64("removed", removed).Msg("stale tracks evicted")
	}
	return nil
}

func alreadyCounted(track *repository.ObjectTrack, direction string) bool {
	if direction == gate.DirectionIn {
		return track.CountedIn
	}
	return track.CountedOut
}

func oppositeDirection(direction string) string {
	if direction == gate.DirectionIn {
		return gate.DirectionOut
	}
	return gate.DirectionIn
}
