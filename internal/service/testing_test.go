package service

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gate-sentinel/internal/config"
	"gate-sentinel/internal/db"
	"gate-sentinel/internal/metrics"
	"gate-sentinel/internal/repository"
)

func newTestRepo(t *testing.T) *repository.GateRepository {
	t.Helper()
	conn, err := db.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	return repository.NewGateRepository(conn)
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type publishedEvent struct {
	EventType string
	Payload   interface{}
}

type publishedState struct {
	People     int
	Vehicles   int
	GateClosed bool
}

// capturePublisher records everything published for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	states []publishedState
	shifts []bool
}

func (p *capturePublisher) PublishDomainEvent(eventType string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{EventType: eventType, Payload: payload})
}

func (p *capturePublisher) PublishState(people, vehicles int, gateClosed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, publishedState{People: people, Vehicles: vehicles, GateClosed: gateClosed})
}

func (p *capturePublisher) PublishShiftActive(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shifts = append(p.shifts, active)
}

func (p *capturePublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.EventType)
	}
	return types
}

func testGateConfig() *config.GateConfig {
	return &config.GateConfig{
		VirtualLineX:    320,
		InsideSide:      "right",
		DebounceUpdates: 2,
		TrackTTLSeconds: 300,
		DedupeSeconds:   15,
	}
}

func testSessionsConfig() *config.SessionsConfig {
	return &config.SessionsConfig{
		LeftExitWindowSeconds:   30,
		LeftExitMaxExtraPeople:  4,
		MaxActive:               2,
		DriverLinkWindowSeconds: 60,
		VehicleReentrySeconds:   86400,
	}
}
