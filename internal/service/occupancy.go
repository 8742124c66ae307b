package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gate-sentinel/internal/config"
	"gate-sentinel/internal/domain/gate"
	"gate-sentinel/internal/repository"
)

// OccupancyLog keeps per-identity presence sessions alongside the
// aggregate counters: a row opens when a track crosses in and closes
// when it crosses out. A vehicle returning within the re-entry match
// window gets the time it spent outside recorded on the session it
// closed on the way out.
type OccupancyLog struct {
	repo *repository.GateRepository
	log  zerolog.Logger
	cfg  *config.SessionsConfig
}

func NewOccupancyLog(repo *repository.GateRepository, cfg *config.SessionsConfig, log zerolog.Logger) *OccupancyLog {
	return &OccupancyLog{
		repo: repo,
		log:  log,
		cfg:  cfg,
	}
}

// RecordCrossing mirrors one committed crossing into the occupancy
// tables. The crossing itself already counted; bookkeeping failures are
// logged and never propagate.
func (o *OccupancyLog) RecordCrossing(ctx context.Context, label, direction, trackKey, cameraID, source string, at time.Time) {
	var err error
	switch {
	case label == gate.LabelPerson && direction == gate.DirectionIn:
		err = o.repo.CreatePersonSession(ctx, &repository.PersonSession{
			PersonKey: trackKey,
			CameraID:  cameraID,
			EnteredAt: at,
			Source:    source,
		})
	case label == gate.LabelPerson && direction == gate.DirectionOut:
		_, err = o.repo.ClosePersonSession(ctx, trackKey, at)
	case label == gate.LabelVehicle && direction == gate.DirectionIn:
		if reErr := o.recordTimeOutside(ctx, trackKey, at); reErr != nil {
			o.log.Warn().Err(reErr).Str("track_key", trackKey).Msg("vehicle time-outside update failed")
		}
		err = o.repo.CreateVehicleSession(ctx, &repository.VehicleSession{
			VehicleKey: trackKey,
			CameraID:   cameraID,
			EnteredAt:  at,
			Source:     source,
		})
	case label == gate.LabelVehicle && direction == gate.DirectionOut:
		_, err = o.repo.CloseVehicleSession(ctx, trackKey, at)
	}
	if err != nil {
		o.log.Warn().
			Err(err).
			Str("label", label).
			Str("direction", direction).
			Str("track_key", trackKey).
			Msg("occupancy session update failed")
	}
}

// recordTimeOutside stamps the gap between the vehicle's last exit and
// this re-entry on the exited session. Exits older than the match window
// are left open-ended.
func (o *OccupancyLog) recordTimeOutside(ctx context.Context, vehicleKey string, enteredAt time.Time) error {
	prior, err := o.repo.LastExitedVehicleSession(ctx, vehicleKey)
	if err != nil || prior == nil || prior.ExitedAt == nil {
		return err
	}
	outside := enteredAt.Sub(*prior.ExitedAt)
	if outside < 0 || outside > o.cfg.VehicleReentryWindow() {
		return nil
	}
	return o.repo.SetVehicleTimeOutside(ctx, prior.ID, int(outside.Seconds()))
}

// PersonSessions lists presence sessions, newest entry first.
func (o *OccupancyLog) PersonSessions(ctx context.Context, limit int) ([]gate.PersonSession, error) {
	rows, err := o.repo.ListPersonSessions(ctx, limit)
	if err != nil {
		return nil, err
	}
	sessions := make([]gate.PersonSession, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, gate.PersonSession{
			ID:        rows[i].ID,
			PersonKey: rows[i].PersonKey,
			CameraID:  rows[i].CameraID,
			EnteredAt: rows[i].EnteredAt,
			ExitedAt:  rows[i].ExitedAt,
			Source:    rows[i].Source,
		})
	}
	return sessions, nil
}

func (o *OccupancyLog) VehicleSessions(ctx context.Context, limit int) ([]gate.VehicleSession, error) {
	rows, err := o.repo.ListVehicleSessions(ctx, limit)
	if err != nil {
		return nil, err
	}
	sessions := make([]gate.VehicleSession, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, gate.VehicleSession{
			ID:                 rows[i].ID,
			VehicleKey:         rows[i].VehicleKey,
			CameraID:           rows[i].CameraID,
			EnteredAt:          rows[i].EnteredAt,
			ExitedAt:           rows[i].ExitedAt,
			TimeOutsideSeconds: rows[i].TimeOutsideSeconds,
			Source:             rows[i].Source,
		})
	}
	return sessions, nil
}
