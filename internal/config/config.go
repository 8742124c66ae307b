package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	ListenAddr  string   `mapstructure:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres
	Path   string `mapstructure:"path"`   // sqlite file path
	DSN    string `mapstructure:"dsn"`    // postgres DSN
}

type MQTTConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Broker        string `mapstructure:"broker"`
	ClientID      string `mapstructure:"client_id"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TopicPrefix   string `mapstructure:"topic_prefix"`
	FeedTopic     string `mapstructure:"feed_topic"`
	DoorHintTopic string `mapstructure:"door_hint_topic"`
}

type CameraConfig struct {
	ID          string `mapstructure:"id"`
	SnapshotURL string `mapstructure:"snapshot_url"`
	FrameURL    string `mapstructure:"frame_url"`
}

type GateConfig struct {
	VirtualLineX    float64 `mapstructure:"virtual_line_x"`
	InsideSide      string  `mapstructure:"inside_side"`
	DebounceUpdates int     `mapstructure:"debounce_updates"`
	TrackTTLSeconds int     `mapstructure:"track_ttl_seconds"`
	DedupeSeconds   int     `mapstructure:"dedupe_seconds"`
}

type SessionsConfig struct {
	LeftExitWindowSeconds   int `mapstructure:"left_exit_window_seconds"`
	LeftExitMaxExtraPeople  int `mapstructure:"left_exit_max_extra_people"`
	MaxActive               int `mapstructure:"max_active"`
	DriverLinkWindowSeconds int `mapstructure:"driver_link_window_seconds"`
	VehicleReentrySeconds   int `mapstructure:"vehicle_reentry_match_seconds"`
}

type AlertsConfig struct {
	CheckIntervalSeconds int    `mapstructure:"check_interval_seconds"`
	CooldownSeconds      int    `mapstructure:"cooldown_seconds"`
	SignalLossTimeout    int    `mapstructure:"signal_loss_timeout"`
	SnapshotDir          string `mapstructure:"snapshot_dir"`
}

type ShiftConfig struct {
	Enabled               bool    `mapstructure:"enabled"`
	StabilizationSeconds  int     `mapstructure:"stabilization_seconds"`
	CheckEveryFrames      int     `mapstructure:"check_every_frames"`
	SampleIntervalSeconds int     `mapstructure:"sample_interval_seconds"`
	MinInlierRatio        float64 `mapstructure:"min_inlier_ratio"`
	MaxRotationDeg        float64 `mapstructure:"max_rotation_deg"`
	MaxTranslationPx      float64 `mapstructure:"max_translation_px"`
	MaxScaleDelta         float64 `mapstructure:"max_scale_delta"`
	AlertConsecutive      int     `mapstructure:"alert_consecutive"`
	MinKeypoints          int     `mapstructure:"min_keypoints"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Gate     GateConfig     `mapstructure:"gate"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Shift    ShiftConfig    `mapstructure:"shift"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("auth.enabled", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/gate_sentinel.db")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.client_id", "gate-sentinel")
	v.SetDefault("mqtt.topic_prefix", "shed")
	v.SetDefault("mqtt.feed_topic", "frigate/events")

	v.SetDefault("camera.id", "cam1")

	v.SetDefault("gate.virtual_line_x", 320.0)
	v.SetDefault("gate.inside_side", "right")
	v.SetDefault("gate.debounce_updates", 2)
	v.SetDefault("gate.track_ttl_seconds", 300)
	v.SetDefault("gate.dedupe_seconds", 15)

	v.SetDefault("sessions.left_exit_window_seconds", 30)
	v.SetDefault("sessions.left_exit_max_extra_people", 4)
	v.SetDefault("sessions.max_active", 2)
	v.SetDefault("sessions.driver_link_window_seconds", 60)
	v.SetDefault("sessions.vehicle_reentry_match_seconds", 86400)

	v.SetDefault("alerts.check_interval_seconds", 10)
	v.SetDefault("alerts.cooldown_seconds", 900)
	v.SetDefault("alerts.signal_loss_timeout", 30)
	v.SetDefault("alerts.snapshot_dir", "./data/snapshots")

	v.SetDefault("shift.enabled", true)
	v.SetDefault("shift.stabilization_seconds", 20)
	v.SetDefault("shift.check_every_frames", 8)
	v.SetDefault("shift.sample_interval_seconds", 2)
	v.SetDefault("shift.min_inlier_ratio", 0.18)
	v.SetDefault("shift.max_rotation_deg", 3.5)
	v.SetDefault("shift.max_translation_px", 18.0)
	v.SetDefault("shift.max_scale_delta", 0.08)
	v.SetDefault("shift.alert_consecutive", 3)
	v.SetDefault("shift.min_keypoints", 80)
}

// Load reads config.yaml from the given path (or the working directory
// when empty) with GATE_SENTINEL_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("GATE_SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unsafe values instead of silently defaulting them.
func (c *Config) Validate() error {
	if c.Gate.DebounceUpdates < 1 {
		return fmt.Errorf("gate.debounce_updates must be >= 1, got %d", c.Gate.DebounceUpdates)
	}
	if c.Gate.InsideSide != "left" && c.Gate.InsideSide != "right" {
		return fmt.Errorf("gate.inside_side must be left or right, got %q", c.Gate.InsideSide)
	}
	if c.Gate.TrackTTLSeconds <= 0 {
		return fmt.Errorf("gate.track_ttl_seconds must be positive, got %d", c.Gate.TrackTTLSeconds)
	}
	if c.Gate.DedupeSeconds <= 0 {
		return fmt.Errorf("gate.dedupe_seconds must be positive, got %d", c.Gate.DedupeSeconds)
	}
	if c.Sessions.LeftExitWindowSeconds <= 0 {
		return fmt.Errorf("sessions.left_exit_window_seconds must be positive, got %d", c.Sessions.LeftExitWindowSeconds)
	}
	if c.Sessions.LeftExitMaxExtraPeople < 0 {
		return fmt.Errorf("sessions.left_exit_max_extra_people must be >= 0, got %d", c.Sessions.LeftExitMaxExtraPeople)
	}
	if c.Sessions.MaxActive < 1 {
		return fmt.Errorf("sessions.max_active must be >= 1, got %d", c.Sessions.MaxActive)
	}
	if c.Sessions.DriverLinkWindowSeconds <= 0 {
		return fmt.Errorf("sessions.driver_link_window_seconds must be positive, got %d", c.Sessions.DriverLinkWindowSeconds)
	}
	if c.Sessions.VehicleReentrySeconds <= 0 {
		return fmt.Errorf("sessions.vehicle_reentry_match_seconds must be positive, got %d", c.Sessions.VehicleReentrySeconds)
	}
	if c.Alerts.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("alerts.check_interval_seconds must be positive, got %d", c.Alerts.CheckIntervalSeconds)
	}
	if c.Alerts.CooldownSeconds <= 0 {
		return fmt.Errorf("alerts.cooldown_seconds must be positive, got %d", c.Alerts.CooldownSeconds)
	}
	if c.Alerts.SignalLossTimeout <= 0 {
		return fmt.Errorf("alerts.signal_loss_timeout must be positive, got %d", c.Alerts.SignalLossTimeout)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Shift.Enabled {
		if c.Shift.AlertConsecutive < 1 {
			return fmt.Errorf("shift.alert_consecutive must be >= 1, got %d", c.Shift.AlertConsecutive)
		}
		if c.Shift.CheckEveryFrames < 1 {
			return fmt.Errorf("shift.check_every_frames must be >= 1, got %d", c.Shift.CheckEveryFrames)
		}
		if c.Shift.MinInlierRatio <= 0 || c.Shift.MinInlierRatio > 1 {
			return fmt.Errorf("shift.min_inlier_ratio must be in (0, 1], got %v", c.Shift.MinInlierRatio)
		}
		if c.Shift.MinKeypoints < 8 {
			return fmt.Errorf("shift.min_keypoints must be >= 8, got %d", c.Shift.MinKeypoints)
		}
	}
	return nil
}

func (c *GateConfig) TrackTTL() time.Duration {
	return time.Duration(c.TrackTTLSeconds) * time.Second
}

func (c *GateConfig) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeSeconds) * time.Second
}

func (c *SessionsConfig) LeftExitWindow() time.Duration {
	return time.Duration(c.LeftExitWindowSeconds) * time.Second
}

func (c *SessionsConfig) DriverLinkWindow() time.Duration {
	return time.Duration(c.DriverLinkWindowSeconds) * time.Second
}

func (c *SessionsConfig) VehicleReentryWindow() time.Duration {
	return time.Duration(c.VehicleReentrySeconds) * time.Second
}

func (c *AlertsConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c *AlertsConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c *AlertsConfig) SignalLossWindow() time.Duration {
	return time.Duration(c.SignalLossTimeout) * time.Second
}

func (c *ShiftConfig) Stabilization() time.Duration {
	return time.Duration(c.StabilizationSeconds) * time.Second
}

func (c *ShiftConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalSeconds) * time.Second
}
