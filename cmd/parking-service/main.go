package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"parking-service/internal/billing"
	"parking-service/internal/cache"
	"parking-service/internal/camera"
	"parking-service/internal/config"
	"parking-service/internal/db"
	"parking-service/internal/domain/parking"
	httpapi "parking-service/internal/http"
	"parking-service/internal/repository"
	"parking-service/internal/sequencer"
	"parking-service/internal/service"
	"parking-service/internal/snapshot"
	"parking-service/internal/tasks"
	"parking-service/internal/vision"
)

func main() {
	flags := pflag.NewFlagSet("parking-service", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to a config file (yaml, json or toml)")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("service", "parking-service").Logger()

	var store repository.Store
	if cfg.Database.DSN == "" {
		store = repository.NewMemoryStore(logger)
		logger.Warn().Msg("no database configured; using in-memory ticket store")
	} else {
		gdb, err := db.Open(cfg.Database, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		store = repository.NewTicketRepository(gdb, logger)
	}

	upstreamClient := &http.Client{}

	var plates vision.PlateReader
	if cfg.OCR.URL == "" {
		plates = vision.NoPlateReader{}
		logger.Warn().Msg("no OCR endpoint configured; every entry goes to manual review")
	} else {
		plates = vision.NewOCRReader(cfg.OCR, upstreamClient, logger)
	}

	lastSeen := cache.NewLastSeen(cfg.Cache.LastSeenCapacity)
	var detector vision.VehicleDetector
	switch strategy := cfg.ResolvedExitStrategy(); strategy {
	case config.ExitStrategyDetector:
		detector = vision.NewHTTPDetector(cfg.Detector, upstreamClient, logger)
	default:
		detector = vision.NewSimilarityDetector(lastSeen, cfg.Detector.HashThreshold)
	}
	logger.Info().Str("exit_strategy", cfg.ResolvedExitStrategy()).Msg("exit verification configured")

	cameras := camera.NewClient(cfg.Camera, &http.Client{}, logger)
	images := snapshot.NewStore(cfg.Storage.SnapshotDir)
	supervisor := tasks.NewSupervisor(logger)

	lifecycle := service.NewLifecycle(service.LifecycleDeps{
		Store:               store,
		Billing:             billing.NewClient(cfg.Billing, upstreamClient, logger),
		Plates:              plates,
		Frames:              cameras,
		Clips:               cameras,
		Images:              images,
		Tasks:               supervisor,
		ConfidenceThreshold: cfg.Ticket.ConfidenceThreshold,
		WriteTimeout:        cfg.Sequencer.WriteTimeout,
	}, logger)
	reconciler := service.NewReconciler(store, detector, cameras, lastSeen, lifecycle, logger)

	lanes := sequencer.New[parking.SpotKey, parking.Outcome](sequencer.Options{
		Workers:     cfg.Sequencer.Workers,
		QueueDepth:  cfg.Sequencer.QueueDepth,
		TaskTimeout: cfg.Sequencer.TaskTimeout,
	}, logger.With().Str("component", "sequencer").Logger())

	ingest := service.NewIngestService(store, reconciler, lanes, logger)
	query := service.NewQueryService(store, images)
	handler := httpapi.NewHandler(ingest, lifecycle, query, logger)
	router := httpapi.NewRouter(cfg, handler, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Server.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := lanes.Drain(ctxShutdown); err != nil {
		logger.Error().Err(err).Int("active_spots", lanes.ActiveKeys()).Msg("spot lanes did not drain")
	}
	if err := supervisor.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("background tasks did not finish")
	}
	logger.Info().Msg("server stopped")
}
