package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hut8/soar-sub007/internal/api"
	"github.com/hut8/soar-sub007/internal/aprsis"
	"github.com/hut8/soar-sub007/internal/beast"
	"github.com/hut8/soar-sub007/internal/config"
	"github.com/hut8/soar-sub007/internal/dedupe"
	"github.com/hut8/soar-sub007/internal/fix"
	"github.com/hut8/soar-sub007/internal/geo"
	"github.com/hut8/soar-sub007/internal/geofence"
	"github.com/hut8/soar-sub007/internal/ingest"
	"github.com/hut8/soar-sub007/internal/storage/sqlite"
	"github.com/hut8/soar-sub007/internal/tracker"
	"github.com/hut8/soar-sub007/internal/websocket"
	"github.com/hut8/soar-sub007/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting soar server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	storage, err := sqlite.NewStorage(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer storage.Close()

	// WebSocket fan-out server
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	publish := wsServer.Publish

	// optional geospatial databases
	var runwayDB *geo.RunwayDB
	if cfg.Runways.DBPath != "" {
		runwayDB, err = geo.NewRunwayDB(cfg.Runways.DBPath, cfg.Runways.MatchRadiusMeters, cfg.Runways.HeadingToleranceD, log)
		if err != nil {
			log.Error("Failed to load runway database", logger.Error(err))
			os.Exit(1)
		}
	}
	var airportDB *geo.AirportDB
	if cfg.Airports.DBPath != "" {
		airportDB, err = geo.NewAirportDB(cfg.Airports.DBPath, log)
		if err != nil {
			log.Error("Failed to load airport database", logger.Error(err))
			os.Exit(1)
		}
	}

	// flight state engine
	trackerCfg := tracker.DefaultConfig()
	trackerCfg.StalenessWindow = cfg.Tracker.StalenessWindow()
	trackerCfg.SweepInterval = cfg.Tracker.SweepInterval()
	trackerCfg.StateEviction = cfg.Tracker.StateEviction()
	trackerCfg.ActiveSpeedKt = cfg.Tracker.ActiveSpeedKt
	trackerCfg.ActiveAGLFt = cfg.Tracker.ActiveAGLFt
	trackerCfg.NoAltitudeSpeedKt = cfg.Tracker.NoAltitudeSpeedKt
	trackerCfg.LowAGLTakeoffFt = cfg.Tracker.LowAGLTakeoffFt
	trackerCfg.TakeoffLookbackFixes = cfg.Tracker.TakeoffLookbackFixes
	trackerCfg.LandingDebounceFixes = cfg.Tracker.LandingDebounceFixes
	trackerCfg.GapSplit = cfg.Tracker.GapSplit()
	trackerCfg.DuplicateWindow = cfg.Tracker.DuplicateWindow()
	trackerCfg.RunwayEventWindow = cfg.Runways.EventWindow()
	trackerCfg.TowVicinityM = float64(cfg.Towing.VicinityMeters)
	trackerCfg.TowReleaseFpm = cfg.Towing.ReleaseFpm
	trackerService := tracker.NewService(trackerCfg, storage, runwayDB, airportDB, publish, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := trackerService.Start(ctx); err != nil {
		log.Error("Failed to start tracker service", logger.Error(err))
		os.Exit(1)
	}

	// geofence monitor
	var monitor *geofence.Monitor
	geofences, err := cfg.LoadGeofences()
	if err != nil {
		log.Error("Failed to load geofence definitions", logger.Error(err))
		os.Exit(1)
	}
	if len(geofences) > 0 {
		monitor = geofence.NewMonitor(geofences, func(e fix.Event) {
			log.Warn("Geofence exit",
				logger.String("device", e.Device),
				logger.String("geofence", e.GeofenceID))
			publish(e)
		}, log)
		log.Info("Geofence monitoring enabled", logger.Int("geofences", len(geofences)))
	}

	// ingest pipeline
	deduper := dedupe.New(cfg.Tracker.DedupeMaxEntries, cfg.Tracker.DedupeWindow())
	resolver := dedupe.NewResolver(storage, log)
	var beastDecoder *beast.Decoder
	if cfg.Beast.Enabled {
		beastDecoder = beast.NewDecoder(cfg.Beast.StationLat, cfg.Beast.StationLon)
	}
	pipeline := ingest.New(storage, deduper, resolver, trackerService, monitor, beastDecoder, publish, log)
	if err := pipeline.Start(ctx); err != nil {
		log.Error("Failed to start ingest pipeline", logger.Error(err))
		os.Exit(1)
	}

	// feed clients
	var aprsClient *aprsis.Client
	if cfg.APRS.Enabled {
		aprsClient = aprsis.NewClient(aprsis.Config{
			Addr:     cfg.APRS.Addr,
			Callsign: cfg.APRS.Callsign,
			Passcode: cfg.APRS.Passcode,
			Filter:   cfg.APRS.Filter,
			Version:  Version,
		}, pipeline.HandleAPRSLine, log)
		if err := aprsClient.Start(ctx); err != nil {
			log.Error("Failed to start APRS-IS client", logger.Error(err))
			os.Exit(1)
		}
	}
	var beastClient *beast.Client
	if cfg.Beast.Enabled {
		beastClient = beast.NewClient(cfg.Beast.Addr, pipeline.HandleBeastFrame, log)
		if err := beastClient.Start(ctx); err != nil {
			log.Error("Failed to start Beast client", logger.Error(err))
			os.Exit(1)
		}
	}

	router := api.NewRouter(trackerService, storage, geofences, wsServer, cfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", server.Addr), logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	if aprsClient != nil {
		log.Info("Stopping APRS-IS client...")
		aprsClient.Stop()
	}
	if beastClient != nil {
		log.Info("Stopping Beast client...")
		beastClient.Stop()
	}

	log.Info("Stopping ingest pipeline...")
	pipeline.Stop()

	log.Info("Stopping tracker service...")
	trackerService.Stop()

	cancel()

	log.Info("Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	wsServer.Stop()

	log.Info("Server fully stopped")
}
