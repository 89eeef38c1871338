// MeterLink Core - IoT energy meter telemetry service
//
// This is the main entry point for the MeterLink Core application.
// MeterLink ingests readings published by energy meters over MQTT and:
//   - Persists every reading and tracks the device registry
//   - Pushes each reading live to websocket viewers
//   - Serves calendar-aligned usage statistics over a REST API
//   - Sends fire-and-forget OTA commands back to meters
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/meterlink/meterlink-core/migrations"

	"github.com/meterlink/meterlink-core/internal/api"
	"github.com/meterlink/meterlink-core/internal/infrastructure/config"
	"github.com/meterlink/meterlink-core/internal/infrastructure/database"
	"github.com/meterlink/meterlink-core/internal/infrastructure/influxdb"
	"github.com/meterlink/meterlink-core/internal/infrastructure/logging"
	"github.com/meterlink/meterlink-core/internal/infrastructure/mqtt"
	"github.com/meterlink/meterlink-core/internal/ingest"
	"github.com/meterlink/meterlink-core/internal/meter"
	"github.com/meterlink/meterlink-core/internal/query"
	"github.com/meterlink/meterlink-core/internal/stats"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MeterLink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Best-effort flush of the log file on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := meter.NewSQLiteStore(db.Sqlx())
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ID(),
	)

	topics := mqtt.Topics{Namespace: cfg.MQTT.Namespace}
	adapter := newIngestAdapter(cfg, store, hub, influxClient, topics)
	adapter.SetLogger(log.With("component", "ingest"))
	if startErr := adapter.Start(ctx, mqttClient); startErr != nil {
		return fmt.Errorf("starting ingestion: %w", startErr)
	}

	engine := stats.NewEngine(store, cfg.DisplayLocation(), stats.Options{
		ClampNegative: cfg.Stats.ClampNegativeUsage,
	})
	svc := query.NewService(store, engine, ingest.NewCommander(mqttClient, topics), query.Options{
		RecentLimitDefault: cfg.Stats.RecentLimitDefault,
		RecentLimitMax:     cfg.Stats.RecentLimitMax,
		Firmware: query.FirmwareRelease{
			Version: cfg.Firmware.LatestVersion,
			BaseURL: cfg.Firmware.BaseURL,
		},
	})

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Query:    svc,
		Hub:      hub,
		DB:       db,
		MQTT:     mqttClient,
		Ingest:   adapter,
		Version:  version,
	}
	if influxClient != nil {
		deps.Influx = influxClient
	}
	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"display_offset", cfg.Site.DisplayUTCOffset,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse order: API, MQTT, InfluxDB, database.
	// Ingestion stops with the broker; in-flight writes finish within
	// ingest.store_timeout.
	log.Info("MeterLink Core stopped", "ingest", adapter.Stats())
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("METERLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newIngestAdapter builds the ingestion adapter. The mirror is only set
// when InfluxDB is enabled so the adapter never holds a nil client.
func newIngestAdapter(cfg *config.Config, store meter.Store, hub *api.Hub, influxClient *influxdb.Client, topics mqtt.Topics) *ingest.Adapter {
	opts := ingest.Options{
		Topics:       topics,
		StoreTimeout: cfg.GetStoreTimeout(),
	}
	if influxClient != nil {
		opts.Mirror = influxClient
	}
	return ingest.New(store, hub, opts)
}

func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
