// growcore runs the grow-cycle execution engine.
//
// It owns recipes, grow cycles, overrides and the transition ledger in
// SQLite, serves effective targets and the command lifecycle over HTTP,
// sends command intents to nodes over MQTT and records their
// acknowledgements, and reads zone telemetry from InfluxDB for the
// accumulation-based progress models.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-grow/migrations"

	"github.com/nerrad567/gray-logic-grow/internal/api"
	"github.com/nerrad567/gray-logic-grow/internal/audit"
	"github.com/nerrad567/gray-logic-grow/internal/auth"
	"github.com/nerrad567/gray-logic-grow/internal/command"
	"github.com/nerrad567/gray-logic-grow/internal/events"
	"github.com/nerrad567/gray-logic-grow/internal/growcycle"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-grow/internal/location"
	"github.com/nerrad567/gray-logic-grow/internal/recipe"
	"github.com/nerrad567/gray-logic-grow/internal/targets"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
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

// engine holds the wired domain services.
type engine struct {
	catalog  *recipe.Catalog
	cycles   *growcycle.Service
	resolver *targets.Resolver
	tracker  *command.Tracker
	places   *location.SQLiteRepository
	audit    *audit.SQLiteRepository
	metrics  *metrics.Metrics
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting growcore",
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
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	eng := buildEngine(db, cfg, log)
	health := map[string]api.HealthChecker{"database": db}

	// MQTT carries command intents out and acknowledgements back.
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
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
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		if wireErr := wireMQTT(eng, mqttClient, byte(cfg.MQTT.QoS), log); wireErr != nil {
			return wireErr
		}
		health["mqtt"] = mqttClient
	} else {
		log.Warn("MQTT disabled; commands can be recorded but not sent")
	}

	// InfluxDB feeds the accumulation-based progress models and records events.
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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

		eng.cycles.SetTelemetry(influxClient.Telemetry())
		recorder := events.NewInfluxRecorder(influxClient)
		eng.cycles.AddEventSink(recorder)
		eng.tracker.AddEventSink(recorder)
		health["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled; TIME progress only")
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		Security: cfg.Security,
		Engine:   cfg.Engine,
		Logger:   log,
		Recipes:  eng.catalog,
		Cycles:   eng.cycles,
		Targets:  eng.resolver,
		Commands: eng.tracker,
		Places:   eng.places,
		Audit:    eng.audit,
		Metrics:  eng.metrics.Handler(),
		Health:   health,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if interval := cfg.GetSweepInterval(); interval > 0 {
		go runSweeps(ctx, eng.tracker, interval, cfg.GetCommandTimeout(), log)
		log.Info("command timeout sweep scheduled",
			"interval", interval.String(),
			"timeout", cfg.GetCommandTimeout().String(),
		)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	log.Info("growcore stopped")
	return nil
}

// buildEngine wires the domain services onto db.
func buildEngine(db *database.DB, cfg *config.Config, log *logging.Logger) *engine {
	authz := auth.CapabilityAuthorizer{}
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log)
	m := metrics.New()

	places := location.NewSQLiteRepository(db.DB)
	recipes := recipe.NewSQLiteRepository(db.DB)
	cycleRepo := growcycle.NewSQLiteRepository(db.DB)

	catalog := recipe.NewCatalog(recipes, authz, recorder)

	cycles := growcycle.NewService(cycleRepo, recipes, places, authz)
	cycles.SetLogger(log)
	cycles.SetAuditRecorder(recorder)
	cycles.AddEventSink(events.NewMetricsSink(m))

	resolver := targets.NewResolver(cycleRepo, recipes, authz)
	resolver.SetLogger(log)
	resolver.SetObserver(m)
	resolver.SetMaxBatchSize(cfg.Engine.MaxBatchSize)

	tracker := command.NewTracker(command.NewSQLiteRepository(db.DB), places, cycleRepo, authz)
	tracker.SetLogger(log)
	tracker.SetAuditRecorder(recorder)
	tracker.SetObserver(m)

	return &engine{
		catalog:  catalog,
		cycles:   cycles,
		resolver: resolver,
		tracker:  tracker,
		places:   places,
		audit:    auditRepo,
		metrics:  m,
	}
}

// wireMQTT connects the command tracker and event announcements to the broker.
func wireMQTT(eng *engine, client *mqtt.Client, qos byte, log *logging.Logger) error {
	eng.tracker.SetTransport(command.NewMQTTTransport(client, qos))

	listener := command.NewAckListener(eng.tracker, auth.SystemActor("ack-listener"))
	listener.SetLogger(log)
	if err := listener.Start(client, qos); err != nil {
		return fmt.Errorf("starting ack listener: %w", err)
	}

	announcer := events.NewMQTTAnnouncer(client, qos)
	announcer.SetLogger(log)
	eng.cycles.AddEventSink(announcer)
	eng.tracker.AddEventSink(announcer)
	return nil
}

// runSweeps marks stale commands TIMEOUT every interval until ctx ends.
func runSweeps(ctx context.Context, tracker *command.Tracker, interval, timeout time.Duration, log *logging.Logger) {
	actor := auth.SystemActor("timeout-sweep")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := tracker.SweepTimeouts(ctx, actor, timeout)
			if err != nil {
				log.Error("command timeout sweep failed", "error", err)
				continue
			}
			if len(swept) > 0 {
				log.Info("commands timed out", "count", len(swept))
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses GROWCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GROWCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
