// Corelink Core - asynchronous RPC bridge
//
// Corelink bridges synchronous-looking HTTP calls onto asynchronous
// message buses: callers POST a command, the bridge correlates the
// eventual reply (or timeout) back to the waiting request, and
// persistent calls survive process restarts through durable records.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/corelink-io/corelink-core/migrations"

	"github.com/corelink-io/corelink-core/internal/api"
	"github.com/corelink-io/corelink-core/internal/auth"
	"github.com/corelink-io/corelink-core/internal/correlation"
	"github.com/corelink-io/corelink-core/internal/device"
	"github.com/corelink-io/corelink-core/internal/infrastructure/config"
	"github.com/corelink-io/corelink-core/internal/infrastructure/database"
	"github.com/corelink-io/corelink-core/internal/infrastructure/engine"
	"github.com/corelink-io/corelink-core/internal/infrastructure/influxdb"
	"github.com/corelink-io/corelink-core/internal/infrastructure/logging"
	"github.com/corelink-io/corelink-core/internal/infrastructure/mqtt"
	"github.com/corelink-io/corelink-core/internal/rpc"
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
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Corelink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
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

	recordRepo := rpc.NewSQLiteRepository(db.DB)
	deviceRepo := device.NewSQLiteRepository(db.DB)

	// Connect to MQTT broker (device transport)
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to the rule-engine bus (optional)
	var engineClient *engine.Client
	if cfg.Engine.Enabled {
		engineClient, err = engine.Connect(cfg.Engine)
		if err != nil {
			return fmt.Errorf("connecting to engine bus: %w", err)
		}
		defer func() {
			log.Info("closing engine bus")
			if closeErr := engineClient.Close(); closeErr != nil {
				log.Error("error closing engine bus", "error", closeErr)
			}
		}()
		log.Info("engine bus connected", "brokers", cfg.Engine.Brokers)
	} else {
		log.Info("engine bus disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Lifecycle event hub and telemetry relay. The relay satisfies the
	// dispatcher's telemetry interface, so every lifecycle transition
	// reaches WebSocket subscribers and, when enabled, InfluxDB.
	hub := api.NewHub(log)
	go hub.Run(ctx)

	var relay *api.LifecycleRelay
	if influxClient != nil {
		relay = api.NewLifecycleRelay(hub, influxClient)
	} else {
		relay = api.NewLifecycleRelay(hub, nil)
	}

	// Correlation registry: one shared deadline authority for all calls
	registry := correlation.NewRegistry(cfg.RPC.SweepEvery(), log)
	defer func() {
		log.Info("closing correlation registry")
		if closeErr := registry.Close(); closeErr != nil {
			log.Error("error closing registry", "error", closeErr)
		}
	}()

	dispatcherDeps := rpc.DispatcherDeps{
		Registry:  registry,
		Repo:      recordRepo,
		Devices:   mqttClient,
		Telemetry: relay,
		Config:    cfg.RPC,
		NodeID:    cfg.Node.ID,
		QoS:       byte(cfg.MQTT.QoS),
		Logger:    log,
	}
	if engineClient != nil {
		dispatcherDeps.Engine = engineClient
	}
	dispatcher := rpc.NewDispatcher(dispatcherDeps)

	// The completer claims the registry's timeout callback, so it must
	// exist before the registry starts sweeping.
	completerDeps := rpc.CompleterDeps{
		Dispatcher: dispatcher,
		Devices:    mqttClient,
		Logger:     log,
	}
	if engineClient != nil {
		completerDeps.Engine = engineClient
	}
	completer := rpc.NewCompleter(completerDeps)

	registry.Start(ctx)
	if err := completer.Start(ctx); err != nil {
		return fmt.Errorf("starting completion handler: %w", err)
	}
	log.Info("rpc pipeline started", "node_id", cfg.Node.ID)

	// Start HTTP API
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		RPC:        cfg.RPC,
		Logger:     log,
		Dispatcher: dispatcher,
		Records:    recordRepo,
		Devices:    deviceRepo,
		Validator:  auth.NewValidator(deviceRepo, cfg.Security.JWT.Secret),
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, engineClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, registry, InfluxDB, engine bus, MQTT, database.

	log.Info("Corelink Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CORELINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CORELINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// Optional clients may be nil when their subsystem is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, engineClient *engine.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if engineClient != nil {
		if err := engineClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
