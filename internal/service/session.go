package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gate-sentinel/internal/config"
	"gate-sentinel/internal/domain/gate"
	"gate-sentinel/internal/repository"
)

// SessionManager owns vehicle-exit sessions and driver attribution. A
// vehicle leaving carries a driver and may shed extra passengers over a
// short window; the session bounds how many later person-exits get
// attributed to it.
type SessionManager struct {
	repo         *repository.GateRepository
	log          zerolog.Logger
	cfg          *config.SessionsConfig
	dedupeWindow time.Duration
}

func NewSessionManager(repo *repository.GateRepository, cfg *config.SessionsConfig, dedupeWindow time.Duration, log zerolog.Logger) *SessionManager {
	return &SessionManager{
		repo:         repo,
		log:          log,
		cfg:          cfg,
		dedupeWindow: dedupeWindow,
	}
}

// OpenExitSession opens a session for a committed vehicle-out crossing.
// When the concurrent-session cap is already reached no session opens and
// nil is returned: the direct driver deduction still applies upstream,
// only the extra person-exit correlation is skipped.
func (m *SessionManager) OpenExitSession(ctx context.Context, cameraID, vehicleTrackKey string) (*gate.VehicleExitSession, error) {
	if err := m.Sweep(ctx); err != nil {
		return nil, err
	}

	active, err := m.repo.CountActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	if active >= m.cfg.MaxActive {
		m.log.Info().
			Int("active", active).
			Str("vehicle_track_key", vehicleTrackKey).
			Msg("vehicle-exit session cap reached, skipping session open")
		return nil, nil
	}

	session := &repository.VehicleExitSession{
		SessionID:               uuid.NewString(),
		StartedAt:               time.Now().UTC(),
		CameraID:                cameraID,
		VehicleTrackKey:         vehicleTrackKey,
		Active:                  true,
		LeftPersonDecrements:    0,
		MaxLeftPersonDecrements: m.cfg.LeftExitMaxExtraPeople,
	}
	if err := m.repo.CreateExitSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create exit session: %w", err)
	}

	m.log.Info().
		Str("session_id", session.SessionID).
		Str("vehicle_track_key", vehicleTrackKey).
		Msg("vehicle-exit session opened")
	return toDomainSession(session), nil
}

// ConsumeLeftExit attributes one person-out crossing to the newest active
// unexpired session that is still under its cap. Expiry and the cap are
// checked lazily here, so sessions close on their next touch rather than
// via per-session timers.
func (m *SessionManager) ConsumeLeftExit(ctx context.Context) (sessionID string, ok bool, err error) {
	now := time.Now().UTC()
	for {
		session, err := m.repo.NewestActiveSession(ctx)
		if err != nil {
			return "", false, err
		}
		if session == nil {
			return "", false, nil
		}
		if now.Sub(session.StartedAt) > m.cfg.LeftExitWindow() {
			if err := m.repo.CloseSession(ctx, session.SessionID); err != nil {
				return "", false, err
			}
			continue
		}
		if session.LeftPersonDecrements >= session.MaxLeftPersonDecrements {
			if err := m.repo.CloseSession(ctx, session.SessionID); err != nil {
				return "", false, err
			}
			continue
		}
		if err := m.repo.IncrementLeftDecrements(ctx, session.SessionID); err != nil {
			return "", false, err
		}
		if session.LeftPersonDecrements+1 >= session.MaxLeftPersonDecrements {
			if err := m.repo.CloseSession(ctx, session.SessionID); err != nil {
				return "", false, err
			}
		}
		return session.SessionID, true, nil
	}
}

// Sweep closes expired sessions and enforces the concurrent-session
// limit. Called lazily before session mutations and from the periodic
// background sweep.
func (m *SessionManager) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-m.cfg.LeftExitWindow())
	closed, err := m.repo.CloseSessionsStartedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if closed > 0 {
		m.log.Debug().Int64("closed", closed).Msg("expired vehicle-exit sessions closed")
	}
	return m.repo.CloseOldestActiveSessions(ctx, m.cfg.MaxActive)
}

func (m *SessionManager) ActiveSessions(ctx context.Context) ([]gate.VehicleExitSession, error) {
	sessions, err := m.repo.ActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]gate.VehicleExitSession, 0, len(sessions))
	for i := range sessions {
		result = append(result, *toDomainSession(&sessions[i]))
	}
	return result, nil
}

// Attributions lists recorded driver attributions, newest first.
func (m *SessionManager) Attributions(ctx context.Context, limit int) ([]gate.DriverAttribution, error) {
	rows, err := m.repo.ListDriverAttributions(ctx, limit)
	if err != nil {
		return nil, err
	}
	result := make([]gate.DriverAttribution, 0, len(rows))
	for i := range rows {
		attribution := gate.DriverAttribution{
			ID:              rows[i].ID,
			EventTime:       rows[i].EventTime,
			Direction:       rows[i].Direction,
			PersonIdentity:  rows[i].PersonIdentity,
			VehicleIdentity: rows[i].VehicleIdentity,
		}
		if rows[i].SessionID != nil {
			attribution.SessionID = *rows[i].SessionID
		}
		if rows[i].DeltaSeconds != nil {
			attribution.DeltaSeconds = *rows[i].DeltaSeconds
		}
		result = append(result, attribution)
	}
	return result, nil
}

// AttributeDriver links a vehicle crossing to the temporally nearest
// person crossing of the same direction inside the link window, or to
// unknown_person when none qualifies. Smaller |dt| wins; exact ties go to
// the earliest person event. A repeat for the same (person, vehicle,
// direction) inside the dedupe window is suppressed.
func (m *SessionManager) AttributeDriver(ctx context.Context, direction, vehicleIdentity, sessionID string, vehicleTime time.Time) (*gate.DriverAttribution, error) {
	window := m.cfg.DriverLinkWindow()
	candidates, err := m.repo.PersonEventsInWindow(ctx, direction, vehicleTime.Add(-window), vehicleTime.Add(window))
	if err != nil {
		return nil, fmt.Errorf("person event lookup: %w", err)
	}

	personIdentity := gate.UnknownPerson
	var deltaSeconds float64
	var best *repository.CounterEvent
	for i := range candidates {
		// Skip the synthetic driver row logged under the vehicle's own key.
		if candidates[i].TrackKey == vehicleIdentity {
			continue
		}
		dt := math.Abs(candidates[i].EventTime.Sub(vehicleTime).Seconds())
		if best == nil || dt < deltaSeconds {
			best = &candidates[i]
			deltaSeconds = dt
		}
		// Candidates come oldest first, so on an exact tie the earliest
		// event is already the one kept.
	}
	if best != nil {
		personIdentity = best.TrackKey
	}

	exists, err := m.repo.RecentAttributionExists(ctx, personIdentity, vehicleIdentity, direction, vehicleTime.Add(-m.dedupeWindow))
	if err != nil {
		return nil, err
	}
	if exists {
		m.log.Debug().
			Str("person", personIdentity).
			Str("vehicle", vehicleIdentity).
			Str("direction", direction).
			Msg("duplicate driver attribution suppressed")
		return nil, nil
	}

	evidence, _ := json.Marshal(map[string]interface{}{
		"delta_seconds": deltaSeconds,
		"candidates":    len(candidates),
	})

	row := &repository.DriverAttribution{
		EventTime:       vehicleTime,
		Direction:       direction,
		PersonIdentity:  personIdentity,
		VehicleIdentity: vehicleIdentity,
		Evidence:        string(evidence),
	}
	if sessionID != "" {
		row.SessionID = &sessionID
	}
	if best != nil {
		row.DeltaSeconds = &deltaSeconds
	}
	if err := m.repo.InsertDriverAttribution(ctx, row); err != nil {
		return nil, fmt.Errorf("insert driver attribution: %w", err)
	}

	m.log.Info().
		Str("person", personIdentity).
		Str("vehicle", vehicleIdentity).
		Str("direction", direction).
		Float64("delta_seconds", deltaSeconds).
		Msg("driver attribution recorded")

	return &gate.DriverAttribution{
		ID:              row.ID,
		EventTime:       row.EventTime,
		Direction:       direction,
		PersonIdentity:  personIdentity,
		VehicleIdentity: vehicleIdentity,
		SessionID:       sessionID,
		DeltaSeconds:    deltaSeconds,
	}, nil
}

func toDomainSession(s *repository.VehicleExitSession) *gate.VehicleExitSession {
	return &gate.VehicleExitSession{
		SessionID:               s.SessionID,
		StartedAt:               s.StartedAt,
		CameraID:                s.CameraID,
		VehicleTrackKey:         s.VehicleTrackKey,
		Active:                  s.Active,
		LeftPersonDecrements:    s.LeftPersonDecrements,
		MaxLeftPersonDecrements: s.MaxLeftPersonDecrements,
	}
}
