package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type GateRepository struct {
	db *gorm.DB
}

func NewGateRepository(db *gorm.DB) *GateRepository {
	return &GateRepository{db: db}
}

// Transaction runs fn against a repository bound to a single database
// transaction. The ledger relies on this for its all-or-nothing commit of
// the event row plus the counters row.
func (r *GateRepository) Transaction(ctx context.Context, fn func(tx *GateRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GateRepository{db: tx})
	})
}

func (r *GateRepository) GetCounters(ctx context.Context) (*CountersState, error) {
	var state CountersState
	if err := r.db.WithContext(ctx).Where("id = 1").First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *GateRepository) UpdateCounters(ctx context.Context, people, vehicles int) error {
	return r.db.WithContext(ctx).Model(&CountersState{}).
		Where("id = 1").
		Updates(map[string]interface{}{
			"people_count":  people,
			"vehicle_count": vehicles,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (r *GateRepository) InsertCounterEvent(ctx context.Context, event *CounterEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// LastCounterEventFor returns the most recent ledger row for the given
// track and direction at or after since, or nil when none exists. It
// backs the dedupe window check.
func (r *GateRepository) LastCounterEventFor(ctx context.Context, label, direction, trackKey string, since time.Time) (*CounterEvent, error) {
	var event CounterEvent
	err := r.db.WithContext(ctx).
		Where("label = ? AND direction = ? AND track_key = ? AND event_time >= ?", label, direction, trackKey, since).
		Order("event_time DESC").
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *GateRepository) ListCounterEvents(ctx context.Context, label *string, from, to *time.Time, limit, offset int) ([]CounterEvent, error) {
	query := r.db.WithContext(ctx).Model(&CounterEvent{})

	if label != nil {
		query = query.Where("label = ?", *label)
	}
	if from != nil {
		query = query.Where("event_time >= ?", *from)
	}
	if to != nil {
		query = query.Where("event_time <= ?", *to)
	}

	query = query.Order("event_time DESC")
	if limit > 0 {
		if limit > 500 {
			limit = 500
		}
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var events []CounterEvent
	err := query.Find(&events).Error
	return events, err
}

// SumDeltas replays the ledger for one label. The result must equal the
// materialized counter at all times.
func (r *GateRepository) SumDeltas(ctx context.Context, label string) (int, error) {
	var sum *int
	err := r.db.WithContext(ctx).Model(&CounterEvent{}).
		Select("SUM(delta)").
		Where("label = ?", label).
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

// PersonEventsInWindow returns person ledger rows of the given direction
// within [from, to], oldest first, for driver-attribution matching.
func (r *GateRepository) PersonEventsInWindow(ctx context.Context, direction string, from, to time.Time) ([]CounterEvent, error) {
	var events []CounterEvent
	err := r.db.WithContext(ctx).
		Where("label = ? AND direction = ? AND event_time >= ? AND event_time <= ?", "person", direction, from, to).
		Order("event_time ASC").
		Find(&events).Error
	return events, err
}

func (r *GateRepository) GetTrack(ctx context.Context, trackKey string) (*ObjectTrack, error) {
	var track ObjectTrack
	err := r.db.WithContext(ctx).Where("track_key = ?", trackKey).First(&track).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &track, nil
}

func (r *GateRepository) UpsertTrack(ctx context.Context, trackKey, label string, side *string) error {
	existing, err := r.GetTrack(ctx, trackKey)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if existing == nil {
		return r.db.WithContext(ctx).Create(&ObjectTrack{
			TrackKey:   trackKey,
			Label:      label,
			LastSeenAt: now,
			LastSide:   side,
		}).Error
	}
	updates := map[string]interface{}{
		"label":        label,
		"last_seen_at": now,
	}
	if side != nil {
		updates["last_side"] = *side
	}
	return r.db.WithContext(ctx).Model(&ObjectTrack{}).
		Where("track_key = ?", trackKey).
		Updates(updates).Error
}

func (r *GateRepository) UpdateTrackSide(ctx context.Context, trackKey, side string) error {
	return r.db.WithContext(ctx).Model(&ObjectTrack{}).
		Where("track_key = ?", trackKey).
		Updates(map[string]interface{}{
			"last_side":    side,
			"last_seen_at": time.Now().UTC(),
		}).Error
}

func (r *GateRepository) MarkTrackCounted(ctx context.Context, trackKey, direction string) error {
	field := "counted_in"
	if direction == "out" {
		field = "counted_out"
	}
	return r.db.WithContext(ctx).Model(&ObjectTrack{}).
		Where("track_key = ?", trackKey).
		Updates(map[string]interface{}{
			field:          true,
			"last_seen_at": time.Now().UTC(),
		}).Error
}

// ClearTrackCounted resets one direction flag so a settled track that
// returned to its original side can be counted again on the next transit.
func (r *GateRepository) ClearTrackCounted(ctx context.Context, trackKey, direction string) error {
	field := "counted_in"
	if direction == "out" {
		field = "counted_out"
	}
	return r.db.WithContext(ctx).Model(&ObjectTrack{}).
		Where("track_key = ?", trackKey).
		Update(field, false).Error
}

func (r *GateRepository) DeleteStaleTracks(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("last_seen_at < ?", cutoff).
		Delete(&ObjectTrack{})
	return result.RowsAffected, result.Error
}
