package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

func (r *GateRepository) CreateExitSession(ctx context.Context, session *VehicleExitSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *GateRepository) CountActiveSessions(ctx context.Context) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&VehicleExitSession{}).
		Where("active = ?", true).
		Count(&count).Error
	return int(count), err
}

func (r *GateRepository) ActiveSessions(ctx context.Context) ([]VehicleExitSession, error) {
	var sessions []VehicleExitSession
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("started_at DESC").
		Find(&sessions).Error
	return sessions, err
}

// NewestActiveSession returns the most recently opened active session, or
// nil when none is active.
func (r *GateRepository) NewestActiveSession(ctx context.Context) (*VehicleExitSession, error) {
	var session VehicleExitSession
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("started_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *GateRepository) CloseSession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Model(&VehicleExitSession{}).
		Where("session_id = ?", sessionID).
		Update("active", false).Error
}

func (r *GateRepository) CloseSessionsStartedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&VehicleExitSession{}).
		Where("active = ? AND started_at < ?", true, cutoff).
		Update("active", false)
	return result.RowsAffected, result.Error
}

// CloseOldestActiveSessions keeps at most max sessions active by closing
// the oldest surplus ones.
func (r *GateRepository) CloseOldestActiveSessions(ctx context.Context, max int) error {
	var sessions []VehicleExitSession
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("started_at ASC").
		Find(&sessions).Error
	if err != nil {
		return err
	}
	if len(sessions) <= max {
		return nil
	}
	for _, s := range sessions[:len(sessions)-max] {
		if err := r.CloseSession(ctx, s.SessionID); err != nil {
			return err
		}
	}
	return nil
}

func (r *GateRepository) IncrementLeftDecrements(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Model(&VehicleExitSession{}).
		Where("session_id = ?", sessionID).
		Update("left_person_decrements", gorm.Expr("left_person_decrements + 1")).Error
}

func (r *GateRepository) RecentAttributionExists(ctx context.Context, person, vehicle, direction string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&DriverAttribution{}).
		Where("person_identity = ? AND vehicle_identity = ? AND direction = ? AND event_time >= ?",
			person, vehicle, direction, since).
		Count(&count).Error
	return count > 0, err
}

func (r *GateRepository) InsertDriverAttribution(ctx context.Context, attribution *DriverAttribution) error {
	return r.db.WithContext(ctx).Create(attribution).Error
}

func (r *GateRepository) ListDriverAttributions(ctx context.Context, limit int) ([]DriverAttribution, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var attributions []DriverAttribution
	err := r.db.WithContext(ctx).
		Order("event_time DESC").
		Limit(limit).
		Find(&attributions).Error
	return attributions, err
}
