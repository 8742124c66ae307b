package service

import (
	"errors"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("unavailable")
)

// EventPublisher fans committed domain events and retained state out to
// downstream consumers (notification, automation). Implementations must
// not block event processing; failures are logged, not propagated.
type EventPublisher interface {
	PublishDomainEvent(eventType string, payload interface{})
	PublishState(peopleCount, vehicleCount int, gateClosed bool)
	PublishShiftActive(active bool)
}

// NopPublisher is used when no message transport is configured.
type NopPublisher struct{}

func (NopPublisher) PublishDomainEvent(string, interface{}) {}
func (NopPublisher) PublishState(int, int, bool) {}
func (NopPublisher) PublishShiftActive(bool) {}
