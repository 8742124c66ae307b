package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gate-sentinel/internal/domain/gate"
)

// errTrackEnded marks upstream end-of-track updates, which carry no new
// position and are dropped silently.
var errTrackEnded = errors.New("track ended upstream")

// frigateEnvelope is the update shape published by frigate-style
// detectors: a type plus before/after object snapshots.
type frigateEnvelope struct {
	Type  string         `json:"type"`
	After *frigateObject `json:"after"`
}

type frigateObject struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Camera    string    `json:"camera"`
	Box       []float64 `json:"box"`
	Score     float64   `json:"score"`
	FrameTime float64   `json:"frame_time"`
}

// decodeTrackPayload accepts either the native track-event shape or a
// frigate-style envelope and normalizes both into one payload.
func decodeTrackPayload(data []byte) (gate.TrackEventPayload, error) {
	var payload gate.TrackEventPayload
	if err := json.Unmarshal(data, &payload); err == nil && payload.TrackKey != "" {
		return payload, nil
	}

	var envelope frigateEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return gate.TrackEventPayload{}, fmt.Errorf("decode track message: %w", err)
	}
	if envelope.After == nil || envelope.After.ID == "" {
		return gate.TrackEventPayload{}, fmt.Errorf("track message has no object id")
	}
	if envelope.Type == "end" {
		return gate.TrackEventPayload{}, errTrackEnded
	}

	payload = gate.TrackEventPayload{
		TrackKey:   envelope.After.ID,
		Label:      envelope.After.Label,
		CameraID:   envelope.After.Camera,
		Box:        envelope.After.Box,
		Confidence: envelope.After.Score,
	}
	if envelope.After.FrameTime > 0 {
		sec := int64(envelope.After.FrameTime)
		nsec := int64((envelope.After.FrameTime - float64(sec)) * 1e9)
		payload.EventTime = time.Unix(sec, nsec).UTC()
	}
	return payload, nil
}
