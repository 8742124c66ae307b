package repository

import (
	"time"
)

type CountersState struct {
	ID           int64 `gorm:"primaryKey"`
	PeopleCount  int   `gorm:"not null"`
	VehicleCount int   `gorm:"not null"`
	UpdatedAt    time.Time
}

func (CountersState) TableName() string { return "counters_state" }

type CounterEvent struct {
	ID             int64     `gorm:"primaryKey"`
	EventTime      time.Time `gorm:"not null;index"`
	Label          string    `gorm:"not null;index"`
	Direction      string    `gorm:"not null"`
	Delta          int       `gorm:"not null"`
	ResultingCount int       `gorm:"not null"`
	TrackKey       string    `gorm:"not null"`
	Source         string    `gorm:"not null"`
	Note           string
	CreatedAt      time.Time
}

type ObjectTrack struct {
	TrackKey   string    `gorm:"primaryKey"`
	Label      string    `gorm:"not null"`
	LastSeenAt time.Time `gorm:"not null;index"`
	LastSide   *string
	CountedIn  bool `gorm:"not null"`
	CountedOut bool `gorm:"not null"`
}

type VehicleExitSession struct {
	SessionID               string    `gorm:"primaryKey"`
	StartedAt               time.Time `gorm:"not null"`
	CameraID                string
	VehicleTrackKey         string
	Active                  bool `gorm:"not null;index"`
	LeftPersonDecrements    int  `gorm:"not null"`
	MaxLeftPersonDecrements int  `gorm:"not null"`
}

type PersonSession struct {
	ID        int64  `gorm:"primaryKey"`
	PersonKey string `gorm:"not null;index"`
	CameraID  string
	EnteredAt time.Time `gorm:"not null;index"`
	ExitedAt  *time.Time
	Source    string
}

type VehicleSession struct {
	ID                 int64  `gorm:"primaryKey"`
	VehicleKey         string `gorm:"not null;index"`
	CameraID           string
	EnteredAt          time.Time `gorm:"not null;index"`
	ExitedAt           *time.Time
	TimeOutsideSeconds *int
	Source             string
}

type GateState struct {
	ID         int64 `gorm:"primaryKey"`
	GateClosed bool  `gorm:"not null"`
	UpdatedAt  time.Time
	UpdatedBy  string
}

func (GateState) TableName() string { return "gate_state" }

type Alert struct {
	AlertKey   string    `gorm:"primaryKey"`
	LastSentAt time.Time `gorm:"not null"`
}

type DriverAttribution struct {
	ID              int64     `gorm:"primaryKey"`
	EventTime       time.Time `gorm:"not null;index"`
	Direction       string    `gorm:"not null"`
	PersonIdentity  string    `gorm:"not null"`
	VehicleIdentity string    `gorm:"not null"`
	SessionID       *string
	DeltaSeconds    *float64
	Evidence        string
}

type GateAlertEvent struct {
	ID           int64     `gorm:"primaryKey"`
	EventTime    time.Time `gorm:"not null"`
	GateClosed   bool      `gorm:"not null"`
	PeopleCount  int       `gorm:"not null"`
	Note         string
	SnapshotPath *string
}

type CameraShiftState struct {
	ID                    int64  `gorm:"primaryKey"`
	Phase                 string `gorm:"not null"`
	ShiftActive           bool   `gorm:"not null"`
	ConsecutiveViolations int    `gorm:"not null"`
	ConsecutiveRecoveries int    `gorm:"not null"`
	UpdatedAt             time.Time
}

func (CameraShiftState) TableName() string { return "camera_shift_state" }

type CameraShiftEvent struct {
	ID            int64     `gorm:"primaryKey"`
	EventTime     time.Time `gorm:"not null"`
	EventType     string    `gorm:"not null"`
	RotationDeg   float64
	TranslationPx float64
	ScaleDelta    float64
	InlierRatio   float64
}
