package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

func (r *GateRepository) GetGateState(ctx context.Context) (*GateState, error) {
	var state GateState
	if err := r.db.WithContext(ctx).Where("id = 1").First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *GateRepository) SetGateState(ctx context.Context, closed bool, updatedBy string) error {
	return r.db.WithContext(ctx).Model(&GateState{}).
		Where("id = 1").
		Updates(map[string]interface{}{
			"gate_closed": closed,
			"updated_at":  time.Now().UTC(),
			"updated_by":  updatedBy,
		}).Error
}

func (r *GateRepository) GetAlertLastSent(ctx context.Context, alertKey string) (*time.Time, error) {
	var alert Alert
	err := r.db.WithContext(ctx).Where("alert_key = ?", alertKey).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alert.LastSentAt, nil
}

func (r *GateRepository) ListAlerts(ctx context.Context) ([]Alert, error) {
	var alerts []Alert
	err := r.db.WithContext(ctx).Order("alert_key ASC").Find(&alerts).Error
	return alerts, err
}

func (r *GateRepository) UpsertAlertLastSent(ctx context.Context, alertKey string, sentAt time.Time) error {
	var alert Alert
	err := r.db.WithContext(ctx).Where("alert_key = ?", alertKey).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.WithContext(ctx).Create(&Alert{AlertKey: alertKey, LastSentAt: sentAt}).Error
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&Alert{}).
		Where("alert_key = ?", alertKey).
		Update("last_sent_at", sentAt).Error
}

func (r *GateRepository) InsertGateAlertEvent(ctx context.Context, event *GateAlertEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *GateRepository) GetShiftState(ctx context.Context) (*CameraShiftState, error) {
	var state CameraShiftState
	if err := r.db.WithContext(ctx).Where("id = 1").First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *GateRepository) SaveShiftState(ctx context.Context, state *CameraShiftState) error {
	return r.db.WithContext(ctx).Model(&CameraShiftState{}).
		Where("id = 1").
		Updates(map[string]interface{}{
			"phase":                  state.Phase,
			"shift_active":           state.ShiftActive,
			"consecutive_violations": state.ConsecutiveViolations,
			"consecutive_recoveries": state.ConsecutiveRecoveries,
			"updated_at":             time.Now().UTC(),
		}).Error
}

func (r *GateRepository) InsertShiftEvent(ctx context.Context, event *CameraShiftEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *GateRepository) ListShiftEvents(ctx context.Context, limit int) ([]CameraShiftEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []CameraShiftEvent
	err := r.db.WithContext(ctx).
		Order("event_time DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
