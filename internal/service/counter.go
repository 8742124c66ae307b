package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gate-sentinel/internal/domain/gate"
	"gate-sentinel/internal/metrics"
	"gate-sentinel/internal/repository"
)

const (
	ledgerRetryAttempts = 3
	ledgerRetryBackoff  = 100 * time.Millisecond
)

// Ledger is the single writer for the persisted counters. Every mutation
// goes through Apply, which commits the ledger row and the counters row
// in one transaction.
type Ledger struct {
	repo         *repository.GateRepository
	log          zerolog.Logger
	metrics      *metrics.Metrics
	dedupeWindow time.Duration

	mu sync.Mutex
}

func NewLedger(repo *repository.GateRepository, dedupeWindow time.Duration, m *metrics.Metrics, log zerolog.Logger) *Ledger {
	return &Ledger{
		repo:         repo,
		log:          log,
		metrics:      m,
		dedupeWindow: dedupeWindow,
	}
}

// Apply adds the delta for one committed crossing to the counter for
// label and appends the ledger row. Direction "in" is +1, "out" is -1
// clamped at zero (the clamped row is still logged with delta 0 for
// auditability). A duplicate submission for the same track and direction
// inside the dedupe window returns the prior event without mutating
// state.
func (l *Ledger) Apply(ctx context.Context, label, direction, trackKey, source, note string, eventTime time.Time) (*gate.CounterEvent, error) {
	if label != gate.LabelPerson && label != gate.LabelVehicle {
		return nil, fmt.Errorf("%w: unknown label %q", ErrInvalidInput, label)
	}
	if direction != gate.DirectionIn && direction != gate.DirectionOut {
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, direction)
	}
	if eventTime.IsZero() {
		eventTime = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prior, err := l.repo.LastCounterEventFor(ctx, label, direction, trackKey, eventTime.Add(-l.dedupeWindow))
	if err != nil {
		return nil, fmt.Errorf("dedupe lookup: %w", err)
	}
	if prior != nil {
		l.metrics.IncDedupeRejections()
		l.log.Debug().
			Str("label", label).
			Str("direction", direction).
			Str("track_key", trackKey).
			Msg("duplicate crossing inside dedupe window, returning prior event")
		return toDomainEvent(prior), nil
	}

	var committed *repository.CounterEvent
	for attempt := 1; ; attempt++ {
		committed, err = l.commit(ctx, label, direction, trackKey, source, note, eventTime)
		if err == nil {
			break
		}
		if attempt >= ledgerRetryAttempts || ctx.Err() != nil {
			return nil, fmt.Errorf("ledger commit: %w", err)
		}
		l.log.Warn().Err(err).Int("attempt", attempt).Msg("ledger commit failed, retrying")
		select {
		case <-time.After(time.Duration(attempt) * ledgerRetryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.metrics.IncCrossing(label, direction)
	l.log.Info().
		Str("label", label).
		Str("direction", direction).
		Int("delta", committed.Delta).
		Int("resulting_count", committed.ResultingCount).
		Str("track_key", trackKey).
		Str("source", source).
		Str("note", committed.Note).
		Msg("counter event committed")

	return toDomainEvent(committed), nil
}

func (l *Ledger) commit(ctx context.Context, label, direction, trackKey, source, note string, eventTime time.Time) (*repository.CounterEvent, error) {
	var event *repository.CounterEvent
	err := l.repo.Transaction(ctx, func(tx *repository.GateRepository) error {
		state, err := tx.GetCounters(ctx)
		if err != nil {
			return err
		}

		count := state.PeopleCount
		if label == gate.LabelVehicle {
			count = state.VehicleCount
		}

		delta := 1
		if direction == gate.DirectionOut {
			delta = -1
		}
		if count+delta < 0 {
			delta = 0
			note = "clamped"
		}
		count += delta

		event = &repository.CounterEvent{
			EventTime:      eventTime,
			Label:          label,
			Direction:      direction,
			Delta:          delta,
			ResultingCount: count,
			TrackKey:       trackKey,
			Source:         source,
			Note:           note,
		}
		if err := tx.InsertCounterEvent(ctx, event); err != nil {
			return err
		}

		people, vehicles := state.PeopleCount, state.VehicleCount
		if label == gate.LabelPerson {
			people = count
		} else {
			vehicles = count
		}
		return tx.UpdateCounters(ctx, people, vehicles)
	})
	if err != nil {
		return nil, err
	}

	l.metrics.SetCount(event.Label, event.ResultingCount)
	return event, nil
}

// PriorEvent returns the ledger row that makes a new submission for the
// same label, direction and track a duplicate, or nil when none sits
// inside the dedupe window. The engine consults it before running
// side effects that must fire at most once per counted crossing.
func (l *Ledger) PriorEvent(ctx context.Context, label, direction, trackKey string, at time.Time) (*gate.CounterEvent, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	row, err := l.repo.LastCounterEventFor(ctx, label, direction, trackKey, at.Add(-l.dedupeWindow))
	if err != nil {
		return nil, fmt.Errorf("dedupe lookup: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return toDomainEvent(row), nil
}

// Counters reads the materialized counter state.
func (l *Ledger) Counters(ctx context.Context) (*gate.CounterSnapshot, error) {
	state, err := l.repo.GetCounters(ctx)
	if err != nil {
		return nil, err
	}
	return &gate.CounterSnapshot{
		PeopleCount:  state.PeopleCount,
		VehicleCount: state.VehicleCount,
		UpdatedAt:    state.UpdatedAt,
	}, nil
}

// Events queries the ledger, newest first.
func (l *Ledger) Events(ctx context.Context, label *string, from, to *time.Time, limit, offset int) ([]gate.CounterEvent, error) {
	if label != nil && *label != gate.LabelPerson && *label != gate.LabelVehicle {
		return nil, fmt.Errorf("%w: unknown label %q", ErrInvalidInput, *label)
	}
	rows, err := l.repo.ListCounterEvents(ctx, label, from, to, limit, offset)
	if err != nil {
		return nil, err
	}
	events := make([]gate.CounterEvent, 0, len(rows))
	for i := range rows {
		events = append(events, *toDomainEvent(&rows[i]))
	}
	return events, nil
}

// Replay recomputes a label's counter from the ledger. The result must
// match the materialized state exactly.
func (l *Ledger) Replay(ctx context.Context, label string) (int, error) {
	return l.repo.SumDeltas(ctx, label)
}

func toDomainEvent(e *repository.CounterEvent) *gate.CounterEvent {
	return &gate.CounterEvent{
		ID:             e.ID,
		EventTime:      e.EventTime,
		Label:          e.Label,
		Direction:      e.Direction,
		Delta:          e.Delta,
		ResultingCount: e.ResultingCount,
		TrackKey:       e.TrackKey,
		Source:         e.Source,
		Note:           e.Note,
	}
}
