package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Statements use the portable subset both drivers accept; the dialect
// splits are the autoincrement primary-key clause, substituted for the
// %s placeholder at run time, and the timestamp column type.
var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS counters_state (
		id              BIGINT PRIMARY KEY,
		people_count    INT NOT NULL,
		vehicle_count   INT NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS counter_events (
		%s,
		event_time      TIMESTAMPTZ NOT NULL,
		label           TEXT NOT NULL,
		direction       TEXT NOT NULL,
		delta           INT NOT NULL,
		resulting_count INT NOT NULL,
		track_key       TEXT NOT NULL,
		source          TEXT NOT NULL,
		note            TEXT,
		created_at      TIMESTAMPTZ
	);`,
	`CREATE INDEX IF NOT EXISTS idx_counter_events_event_time ON counter_events(event_time);`,
	`CREATE INDEX IF NOT EXISTS idx_counter_events_label ON counter_events(label);`,
	`CREATE TABLE IF NOT EXISTS object_tracks (
		track_key       TEXT PRIMARY KEY,
		label           TEXT NOT NULL,
		last_seen_at    TIMESTAMPTZ NOT NULL,
		last_side       TEXT,
		counted_in      BOOLEAN NOT NULL,
		counted_out     BOOLEAN NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_object_tracks_last_seen_at ON object_tracks(last_seen_at);`,
	`CREATE TABLE IF NOT EXISTS vehicle_exit_sessions (
		session_id                  TEXT PRIMARY KEY,
		started_at                  TIMESTAMPTZ NOT NULL,
		camera_id                   TEXT,
		vehicle_track_key           TEXT,
		active                      BOOLEAN NOT NULL,
		left_person_decrements      INT NOT NULL,
		max_left_person_decrements  INT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicle_exit_sessions_active ON vehicle_exit_sessions(active);`,
	`CREATE TABLE IF NOT EXISTS gate_state (
		id              BIGINT PRIMARY KEY CHECK (id = 1),
		gate_closed     BOOLEAN NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		updated_by      TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS alerts (
		alert_key       TEXT PRIMARY KEY,
		last_sent_at    TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS driver_attributions (
		%s,
		event_time          TIMESTAMPTZ NOT NULL,
		direction           TEXT NOT NULL,
		person_identity     TEXT NOT NULL,
		vehicle_identity    TEXT NOT NULL,
		session_id          TEXT,
		delta_seconds       DOUBLE PRECISION,
		evidence            TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_driver_attributions_event_time ON driver_attributions(event_time);`,
	`CREATE TABLE IF NOT EXISTS gate_alert_events (
		%s,
		event_time      TIMESTAMPTZ NOT NULL,
		gate_closed     BOOLEAN NOT NULL,
		people_count    INT NOT NULL,
		note            TEXT,
		snapshot_path   TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS camera_shift_state (
		id                      BIGINT PRIMARY KEY CHECK (id = 1),
		phase                   TEXT NOT NULL,
		shift_active            BOOLEAN NOT NULL,
		consecutive_violations  INT NOT NULL,
		consecutive_recoveries  INT NOT NULL,
		updated_at              TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS camera_shift_events (
		%s,
		event_time      TIMESTAMPTZ NOT NULL,
		event_type      TEXT NOT NULL,
		rotation_deg    DOUBLE PRECISION,
		translation_px  DOUBLE PRECISION,
		scale_delta     DOUBLE PRECISION,
		inlier_ratio    DOUBLE PRECISION
	);`,
	`CREATE TABLE IF NOT EXISTS person_sessions (
		%s,
		person_key      TEXT NOT NULL,
		camera_id       TEXT,
		entered_at      TIMESTAMPTZ NOT NULL,
		exited_at       TIMESTAMPTZ,
		source          TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_person_sessions_person_key ON person_sessions(person_key);`,
	`CREATE INDEX IF NOT EXISTS idx_person_sessions_entered_at ON person_sessions(entered_at);`,
	`CREATE TABLE IF NOT EXISTS vehicle_sessions (
		%s,
		vehicle_key             TEXT NOT NULL,
		camera_id               TEXT,
		entered_at              TIMESTAMPTZ NOT NULL,
		exited_at               TIMESTAMPTZ,
		time_outside_seconds    INT,
		source                  TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicle_sessions_vehicle_key ON vehicle_sessions(vehicle_key);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicle_sessions_entered_at ON vehicle_sessions(entered_at);`,
	`INSERT INTO counters_state (id, people_count, vehicle_count, updated_at)
		SELECT 1, 0, 0, CURRENT_TIMESTAMP
		WHERE NOT EXISTS (SELECT 1 FROM counters_state WHERE id = 1);`,
	`INSERT INTO gate_state (id, gate_closed, updated_at, updated_by)
		SELECT 1, FALSE, CURRENT_TIMESTAMP, 'system'
		WHERE NOT EXISTS (SELECT 1 FROM gate_state WHERE id = 1);`,
	`INSERT INTO camera_shift_state (id, phase, shift_active, consecutive_violations, consecutive_recoveries, updated_at)
		SELECT 1, 'STABILIZING', FALSE, 0, 0, CURRENT_TIMESTAMP
		WHERE NOT EXISTS (SELECT 1 FROM camera_shift_state WHERE id = 1);`,
}

func serialPrimaryKey(dialect string) string {
	if dialect == "postgres" {
		return "id BIGSERIAL PRIMARY KEY"
	}
	return "id INTEGER PRIMARY KEY AUTOINCREMENT"
}

// timestampType picks a column type the driver scans back into
// time.Time: go-sqlite3 only recognizes DATE/DATETIME/TIMESTAMP declared
// types, while postgres keeps the timezone-aware TIMESTAMPTZ.
func timestampType(dialect string) string {
	if dialect == "postgres" {
		return "TIMESTAMPTZ"
	}
	return "DATETIME"
}

func runMigrations(db *gorm.DB) error {
	dialect := db.Dialector.Name()
	pk := serialPrimaryKey(dialect)
	ts := timestampType(dialect)
	for i, stmt := range migrationStatements {
		stmt = strings.ReplaceAll(stmt, "%s", pk)
		stmt = strings.ReplaceAll(stmt, "TIMESTAMPTZ", ts)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
