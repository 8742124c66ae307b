package gate

import (
	"time"
)

const (
	LabelPerson  = "person"
	LabelVehicle = "vehicle"

	DirectionIn  = "in"
	DirectionOut = "out"

	SourceTracker = "tracker"
	SourceVirtual = "virtual"

	SideLeft  = "left"
	SideRight = "right"

	UpdatedBySystem      = "system"
	UpdatedByUserCommand = "user-command"

	UnknownPerson  = "unknown_person"
	UnknownVehicle = "unknown_vehicle"

	AlertKeyNoOneGateOpen = "no_one_gate_open"
	AlertKeyCameraShift   = "camera_shift"
	AlertKeySignalLoss    = "signal_loss"

	EventPersonIn             = "PERSON_IN"
	EventPersonOut            = "PERSON_OUT"
	EventVehicleIn            = "VEHICLE_IN"
	EventVehicleOut           = "VEHICLE_OUT"
	EventCameraShift          = "CAMERA_SHIFT"
	EventCameraShiftRecovered = "CAMERA_SHIFT_RECOVERED"
	EventGateAlertNoOneOpen   = "GATE_ALERT_NO_ONE_OPEN"
	EventSignalLoss           = "SIGNAL_LOSS"
)

// TrackEventPayload is one per-frame observation of a tracked object as
// delivered by the external detector. Box is [x, y, width, height] in
// frame pixels; Direction may be set upstream when the tracker already
// resolved the transit itself.
type TrackEventPayload struct {
	TrackKey   string                 `json:"track_key"`
	Label      string                 `json:"label"`
	CameraID   string                 `json:"camera_id"`
	Direction  string                 `json:"direction,omitempty"`
	Box        []float64              `json:"box,omitempty"`
	Confidence float64                `json:"confidence,omitempty"`
	EventTime  time.Time              `json:"event_time"`
	RawPayload map[string]interface{} `json:"raw_payload,omitempty"`
}

// CounterSnapshot is the current materialized counter state.
type CounterSnapshot struct {
	PeopleCount  int       `json:"people_count"`
	VehicleCount int       `json:"vehicle_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CounterEvent is one immutable ledger row. ResultingCount is the counter
// value for the row's label after Delta was applied.
type CounterEvent struct {
	ID             int64     `json:"id"`
	EventTime      time.Time `json:"event_time"`
	Label          string    `json:"label"`
	Direction      string    `json:"direction"`
	Delta          int       `json:"delta"`
	ResultingCount int       `json:"resulting_count"`
	TrackKey       string    `json:"track_key"`
	Source         string    `json:"source"`
	Note           string    `json:"note,omitempty"`
}

type VehicleExitSession struct {
	SessionID               string    `json:"session_id"`
	StartedAt               time.Time `json:"started_at"`
	CameraID                string    `json:"camera_id"`
	VehicleTrackKey         string    `json:"vehicle_track_key"`
	Active                  bool      `json:"active"`
	LeftPersonDecrements    int       `json:"left_person_decrements"`
	MaxLeftPersonDecrements int       `json:"max_left_person_decrements"`
}

// PersonSession is one presence interval for a person track: opened on
// the in-crossing, closed on the out-crossing.
type PersonSession struct {
	ID        int64      `json:"id"`
	PersonKey string     `json:"person_key"`
	CameraID  string     `json:"camera_id,omitempty"`
	EnteredAt time.Time  `json:"entered_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	Source    string     `json:"source,omitempty"`
}

// VehicleSession mirrors PersonSession for vehicles; a vehicle returning
// within the re-entry window gets the time it spent outside recorded on
// its previous session.
type VehicleSession struct {
	ID                 int64      `json:"id"`
	VehicleKey         string     `json:"vehicle_key"`
	CameraID           string     `json:"camera_id,omitempty"`
	EnteredAt          time.Time  `json:"entered_at"`
	ExitedAt           *time.Time `json:"exited_at,omitempty"`
	TimeOutsideSeconds *int       `json:"time_outside_seconds,omitempty"`
	Source             string     `json:"source,omitempty"`
}

type DriverAttribution struct {
	ID              int64     `json:"id"`
	EventTime       time.Time `json:"event_time"`
	Direction       string    `json:"direction"`
	PersonIdentity  string    `json:"person_identity"`
	VehicleIdentity string    `json:"vehicle_identity"`
	SessionID       string    `json:"session_id,omitempty"`
	DeltaSeconds    float64   `json:"delta_seconds"`
}

type GateState struct {
	GateClosed bool      `json:"gate_closed"`
	UpdatedAt  time.Time `json:"updated_at"`
	UpdatedBy  string    `json:"updated_by"`
}

type AlertState struct {
	AlertKey   string    `json:"alert_key"`
	LastSentAt time.Time `json:"last_sent_at"`
}

// Shift detector phases.
const (
	ShiftPhaseStabilizing      = "STABILIZING"
	ShiftPhaseBaselineCaptured = "BASELINE_CAPTURED"
	ShiftPhaseNominal          = "NOMINAL"
	ShiftPhaseShifted          = "SHIFTED"
)

type ShiftState struct {
	Phase                 string    `json:"phase"`
	ShiftActive           bool      `json:"shift_active"`
	ConsecutiveViolations int       `json:"consecutive_violations"`
	ConsecutiveRecoveries int       `json:"consecutive_recoveries"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ShiftMeasurement holds the scalars derived from one baseline comparison.
type ShiftMeasurement struct {
	RotationDeg   float64 `json:"rotation_deg"`
	TranslationPx float64 `json:"translation_px"`
	ScaleDelta    float64 `json:"scale_delta"`
	InlierRatio   float64 `json:"inlier_ratio"`
	Violating     bool    `json:"violating"`
	Reason        string  `json:"reason,omitempty"`
}

// ProcessResult reports what a single track event did to the engine.
type ProcessResult struct {
	TrackKey  string         `json:"track_key"`
	Label     string         `json:"label"`
	Direction string         `json:"direction,omitempty"`
	Committed bool           `json:"committed"`
	Events    []CounterEvent `json:"events,omitempty"`
}
