package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gate-sentinel/internal/config"
	"gate-sentinel/internal/db"
	"gate-sentinel/internal/domain/gate"
	httpapi "gate-sentinel/internal/http"
	"gate-sentinel/internal/metrics"
	"gate-sentinel/internal/mqtt"
	"gate-sentinel/internal/repository"
	"gate-sentinel/internal/service"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	logger := log.With().Str("service", "gate-sentinel").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration load failed")
	}

	database, err := db.Open(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("database open failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	repo := repository.NewGateRepository(database)
	activity := service.NewActivityTracker()

	var publisher service.EventPublisher = service.NopPublisher{}
	var broker *mqtt.Client
	if cfg.MQTT.Enabled {
		broker = mqtt.NewClient(&cfg.MQTT, logger.With().Str("component", "mqtt").Logger())
		publisher = broker
	}

	tripwire := service.NewTripwire(&cfg.Gate, logger.With().Str("component", "tripwire").Logger())
	ledger := service.NewLedger(repo, cfg.Gate.DedupeWindow(), m, logger.With().Str("component", "ledger").Logger())
	sessions := service.NewSessionManager(repo, &cfg.Sessions, cfg.Gate.DedupeWindow(), logger.With().Str("component", "sessions").Logger())
	occupancy := service.NewOccupancyLog(repo, &cfg.Sessions, logger.With().Str("component", "occupancy").Logger())
	engine := service.NewEngine(repo, tripwire, ledger, sessions, occupancy, publisher, activity, &cfg.Gate, m, logger.With().Str("component", "engine").Logger())

	snapshots := service.NewHTTPSnapshotFetcher(cfg.Camera.SnapshotURL)
	gates := service.NewGateService(repo, &cfg.Alerts, snapshots, publisher, activity, m, logger.With().Str("component", "gate").Logger())

	var shiftRunner *service.ShiftRunner
	if cfg.Shift.Enabled {
		frameURL := cfg.Camera.FrameURL
		if frameURL == "" {
			frameURL = cfg.Camera.SnapshotURL
		}
		shiftRunner = service.NewShiftRunner(
			repo,
			service.NewHTTPFrameSource(frameURL),
			&cfg.Shift,
			publisher,
			activity,
			m,
			logger.With().Str("component", "shift").Logger(),
		)
	}

	if broker != nil {
		broker.Bind(mqtt.Handlers{
			TrackEvent: func(ctx context.Context, payload gate.TrackEventPayload) {
				if payload.CameraID == "" {
					payload.CameraID = cfg.Camera.ID
				}
				if _, err := engine.Process(ctx, payload); err != nil {
					logger.Warn().Err(err).Str("track_key", payload.TrackKey).Msg("track event rejected")
				}
			},
			GateCommand: func(ctx context.Context, closed bool, updatedBy string) {
				if err := gates.SetGate(ctx, closed, updatedBy); err != nil {
					logger.Warn().Err(err).Msg("gate command failed")
				}
			},
		})
		if err := broker.Connect(ctx); err != nil {
			logger.Fatal().Err(err).Msg("mqtt connect failed")
		}
		defer broker.Disconnect()
	}

	go gates.RunAlertLoop(ctx)
	go runSweeper(ctx, engine, sessions, cfg.Gate.TrackTTL(), logger)
	if shiftRunner != nil {
		go shiftRunner.Run(ctx)
	}

	handler := httpapi.NewHandler(engine, ledger, sessions, occupancy, gates, shiftRunner, cfg, logger.With().Str("component", "http").Logger())
	router := httpapi.NewRouter(handler, cfg, registry)

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
		os.Exit(1)
	}
}

// runSweeper drops stale in-flight tracks and closes expired exit
// sessions, so abandoned detections never pin memory or block re-entry
// of the same key.
func runSweeper(ctx context.Context, engine *service.Engine, sessions *service.SessionManager, ttl time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.SweepTracks(ctx); err != nil {
				logger.Warn().Err(err).Msg("track sweep failed")
			}
			if err := sessions.Sweep(ctx); err != nil {
				logger.Warn().Err(err).Msg("session sweep failed")
			}
		}
	}
}
