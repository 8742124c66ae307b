package service

import (
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"gate-sentinel/internal/config"
	"gate-sentinel/internal/domain/gate"
)

// trackSide is the per-track debounce state. confirmedSide is the side the
// track has settled on; a crossing fires only when a full streak lands on
// the other side.
type trackSide struct {
	confirmedSide string
	streakSide    string
	streak        int
}

// Tripwire decides whether a track crossed the virtual gate line and in
// which direction. State is in-memory with TTL eviction; the caller
// supplies the last persisted side so a restart does not re-fire
// crossings for tracks that were already settled.
type Tripwire struct {
	lineX      float64
	insideSide string
	debounce   int
	cache      *gocache.Cache
	log        zerolog.Logger
}

func NewTripwire(cfg *config.GateConfig, log zerolog.Logger) *Tripwire {
	ttl := cfg.TrackTTL()
	return &Tripwire{
		lineX:      cfg.VirtualLineX,
		insideSide: cfg.InsideSide,
		debounce:   cfg.DebounceUpdates,
		cache:      gocache.New(ttl, ttl),
		log:        log,
	}
}

// Observe records one position sample for a track. priorSide is the
// persisted side from a previous run ("" when unknown) and is only
// consulted the first time a track is seen. It returns the committed
// crossing direction ("" when none) and the track's confirmed side (""
// while the origin is still ambiguous).
func (t *Tripwire) Observe(trackKey string, centerX float64, priorSide string) (direction, confirmedSide string) {
	side := gate.SideLeft
	if centerX >= t.lineX {
		side = gate.SideRight
	}

	var state *trackSide
	if cached, ok := t.cache.Get(trackKey); ok {
		state = cached.(*trackSide)
	} else {
		state = &trackSide{confirmedSide: priorSide}
	}

	if state.streakSide == side {
		state.streak++
	} else {
		state.streakSide = side
		state.streak = 1
	}
	t.cache.SetDefault(trackKey, state)

	// First confirmed side is recorded without firing: a track that
	// appears already inside has no observed transit.
	if state.confirmedSide == "" {
		if state.streak >= t.debounce {
			state.confirmedSide = side
		}
		return "", state.confirmedSide
	}

	if side == state.confirmedSide || state.streak < t.debounce {
		return "", state.confirmedSide
	}

	previous := state.confirmedSide
	state.confirmedSide = side

	if previous == t.insideSide && side != t.insideSide {
		return gate.DirectionOut, side
	}
	if previous != t.insideSide && side == t.insideSide {
		return gate.DirectionIn, side
	}
	return "", side
}

// Forget drops a track's in-memory state. Used after manual resets.
func (t *Tripwire) Forget(trackKey string) {
	t.cache.Delete(trackKey)
}

// ActiveTracks reports how many tracks currently hold debounce state.
func (t *Tripwire) ActiveTracks() int {
	return t.cache.ItemCount()
}

// CenterX extracts the box center from a [x, y, width, height] payload.
func CenterX(box []float64) (float64, bool) {
	if len(box) < 4 {
		return 0, false
	}
	return box[0] + box[2]/2.0, true
}
