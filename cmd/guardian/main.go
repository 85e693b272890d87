// Command guardian runs the screen-ergonomics monitor: it consumes per-frame
// landmark geometry from an external vision process, classifies distance,
// posture and behavior, raises debounced alerts, and persists time-bucketed
// statistics to SQLite, all served over a local HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/posture.report/internal/alerts"
	"github.com/banshee-data/posture.report/internal/api"
	"github.com/banshee-data/posture.report/internal/calibration"
	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/landmark"
	"github.com/banshee-data/posture.report/internal/notify"
	"github.com/banshee-data/posture.report/internal/session"
	"github.com/banshee-data/posture.report/internal/stats"
	"github.com/banshee-data/posture.report/internal/timeutil"
	"github.com/banshee-data/posture.report/internal/version"
)

var (
	devMode       = flag.Bool("dev", false, "Run in dev mode: replay fixtures, log notifications instead of delivering them")
	listen        = flag.String("listen", ":8787", "Listen address")
	dbFile        = flag.String("db", "guardian.db", "SQLite database path")
	configPath    = flag.String("config", "guardian_config.json", "Config file path")
	calibPath     = flag.String("calibration", "calibration.json", "Calibration profile path")
	fixtures      = flag.String("fixtures", "fixtures.jsonl", "Observation fixtures for dev mode")
	migrationsDir = flag.String("migrations", "db/migrations", "Migrations directory")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	profile, err := calibration.Load(*calibPath)
	if err != nil {
		log.Fatalf("failed to load calibration profile: %v", err)
	}
	if !profile.Calibrated() {
		log.Printf("no calibration data found, using default focal length; run the calibration procedure for accurate distances")
	}

	var detector landmark.Detector
	if *devMode {
		detector, err = landmark.LoadReplay(*fixtures, true)
		if err != nil {
			log.Fatalf("failed to load fixtures: %v", err)
		}
	} else {
		// The vision process pipes one JSON observation per frame on stdin.
		detector = landmark.NewStreamDetector(os.Stdin)
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if _, err := os.Stat(*migrationsDir); err == nil {
		if err := database.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}

	clock := timeutil.RealClock{}
	agg, err := stats.NewAggregator(clock, database, cfg.GetFlushInterval())
	if err != nil {
		log.Fatalf("failed to initialize aggregator: %v", err)
	}

	var notifier alerts.Notifier
	if *devMode {
		notifier = notify.LogNotifier{}
	} else {
		notifier = notify.NewOSNotifier()
	}

	sess := session.New(clock, cfg, detector, profile, agg, database, notifier)
	server := api.NewServer(sess, database, clock, *listen)

	log.Printf("guardian %s starting, session %s", version.Version, sess.ID())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sess.Run(ctx); err != nil {
			log.Printf("session shutdown error: %v", err)
		}
		log.Print("session routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil {
			log.Printf("server error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
