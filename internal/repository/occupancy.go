package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

func (r *GateRepository) CreatePersonSession(ctx context.Context, session *PersonSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// ClosePersonSession stamps the exit time on the newest still-open
// session for the person and returns its id, or 0 when none is open.
func (r *GateRepository) ClosePersonSession(ctx context.Context, personKey string, exitedAt time.Time) (int64, error) {
	var session PersonSession
	err := r.db.WithContext(ctx).
		Where("person_key = ? AND exited_at IS NULL", personKey).
		Order("entered_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	err = r.db.WithContext(ctx).Model(&PersonSession{}).
		Where("id = ?", session.ID).
		Update("exited_at", exitedAt).Error
	return session.ID, err
}

func (r *GateRepository) CreateVehicleSession(ctx context.Context, session *VehicleSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *GateRepository) CloseVehicleSession(ctx context.Context, vehicleKey string, exitedAt time.Time) (int64, error) {
	var session VehicleSession
	err := r.db.WithContext(ctx).
		Where("vehicle_key = ? AND exited_at IS NULL", vehicleKey).
		Order("entered_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	err = r.db.WithContext(ctx).Model(&VehicleSession{}).
		Where("id = ?", session.ID).
		Update("exited_at", exitedAt).Error
	return session.ID, err
}

// LastExitedVehicleSession returns the newest closed session for the
// vehicle that has no time-outside recorded yet, or nil.
func (r *GateRepository) LastExitedVehicleSession(ctx context.Context, vehicleKey string) (*VehicleSession, error) {
	var session VehicleSession
	err := r.db.WithContext(ctx).
		Where("vehicle_key = ? AND exited_at IS NOT NULL AND time_outside_seconds IS NULL", vehicleKey).
		Order("exited_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *GateRepository) SetVehicleTimeOutside(ctx context.Context, sessionID int64, seconds int) error {
	return r.db.WithContext(ctx).Model(&VehicleSession{}).
		Where("id = ?", sessionID).
		Update("time_outside_seconds", seconds).Error
}

func (r *GateRepository) ListPersonSessions(ctx context.Context, limit int) ([]PersonSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var sessions []PersonSession
	err := r.db.WithContext(ctx).
		Order("entered_at DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (r *GateRepository) ListVehicleSessions(ctx context.Context, limit int) ([]VehicleSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var sessions []VehicleSession
	err := r.db.WithContext(ctx).
		Order("entered_at DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}
