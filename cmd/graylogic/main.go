// NoLongerEvil Thermostat Core - self-hosted smart-thermostat backend
//
// This is the main entry point. The core replaces a vendor cloud backend
// for a line of WiFi thermostats: it terminates the device protocol
// (check-in, object writes, long-poll subscription), keeps per-device
// state in a versioned object store, fans changes out to an availability
// watchdog, waiting subscribers, cross-device reconcilers, and outbound
// integrations (MQTT/Home Assistant), and exposes a frontend-facing
// status/metrics surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/cmason/NoLongerEvil-Thermostat/migrations"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/api"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/auth"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/availability"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/devicestate"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/config"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/database"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/influxdb"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/logging"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/integration"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/reconciler"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/subscription"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// lazyStateStore satisfies the identically-shaped stateStore interfaces
// declared privately in internal/reconciler and internal/integration. Both
// the MQTT bridge factory and the reconcilers must exist before the
// devicestate.Service that wraps them as observers; this indirection lets
// them hold a reference that resolves once the Service is built, instead
// of writing straight to the store and bypassing the observer fan-out.
type lazyStateStore struct {
	svc *devicestate.Service
}

func (l *lazyStateStore) GetAllForDevice(ctx context.Context, serial string) (map[string]objectstore.Object, error) {
	return l.svc.GetAllForDevice(ctx, serial)
}

func (l *lazyStateStore) Upsert(ctx context.Context, serial, key string, revision, timestamp int64, value objectstore.Value) (*objectstore.Object, error) {
	return l.svc.Upsert(ctx, serial, key, revision, timestamp, value)
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting NoLongerEvil Thermostat Core",
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
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

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
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return nil
		}
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Object store: the single source of truth for every device's state.
	store := objectstore.NewStore(objectstore.NewSQLiteRepository(db.DB, log))

	// Availability watchdog: survives a restart via the persisted snapshot.
	watchdog := availability.New(
		availability.NewSQLiteRepository(db.DB),
		cfg.WatchdogTimeout(),
		cfg.WatchdogCheckInterval(),
		log,
	)
	if loadErr := watchdog.LoadSnapshot(ctx); loadErr != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return nil
		}
		return fmt.Errorf("loading watchdog snapshot: %w", loadErr)
	}

	// Subscription manager: long-poll waiters double as liveness evidence
	// for the watchdog sweep.
	sub := subscription.NewManager()
	watchdog.SetActiveSerialsSource(sub)

	authorizer := auth.NewSQLiteAuthorizer(db.DB)

	// lazyStore is handed to every component that needs to write back
	// through the full observer chain (reconcilers, the MQTT bridge's
	// inbound command handling) before that chain itself exists.
	lazyStore := &lazyStateStore{}

	ownershipResolver := reconciler.NewSQLiteOwnershipResolver(db.DB)
	weatherCache := reconciler.NewMemoryWeatherCache(time.Now)
	awayReconciler := reconciler.NewAwayReconciler(lazyStore, ownershipResolver, log)
	weatherReconciler := reconciler.NewWeatherReconciler(lazyStore, ownershipResolver, weatherCache, time.Now, log)
	reconcileObserver := reconciler.NewObserver(ownershipResolver, awayReconciler, weatherReconciler, log)

	integrationResolver := integration.NewSQLiteOwnershipResolver(db.DB)
	integrationRepo := integration.NewSQLiteRepository(db.DB)
	bridgeFactory := integration.NewMQTTBridgeFactory(lazyStore, integrationResolver, cfg.IntegrationReconcileInterval(), log)
	integrationManager := integration.NewManager(integrationRepo, integrationResolver, bridgeFactory, cfg.MQTT, log)

	// Optional InfluxDB telemetry sink.
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "org", cfg.InfluxDB.Org, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device state service assembles the fixed observer order: watchdog
	// first, then waiting subscribers, then cross-device reconciliation,
	// then outbound integrations, then telemetry. Each is isolated from
	// the others' panics by Service.dispatch.
	observers := []devicestate.Observer{
		devicestate.NewWatchdogObserver(watchdog),
		devicestate.NewSubscriptionObserver(sub),
		reconcileObserver,
		integrationManager,
	}
	if influxClient != nil {
		observers = append(observers, influxdb.NewTelemetryObserver(influxClient))
	}
	states := devicestate.New(store, log, observers...)
	lazyStore.svc = states

	watchdog.SetAvailabilityChangeHandler(func(serial string, available bool) {
		integrationManager.NotifyAvailability(ctx, serial, available)
		if influxClient != nil {
			value := 0.0
			if available {
				value = 1.0
			}
			influxClient.WriteSerialMetric(serial, "availability", value)
		}
	})

	watchdog.Start(ctx)
	defer watchdog.Stop()

	integrationManager.StartAllEnabled(ctx)
	defer integrationManager.StopAll(ctx)

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		Frontend:     cfg.Frontend,
		Security:     cfg.Security,
		Subscription: cfg.Subscription,
		Logger:       log,
		States:       states,
		Authorizer:   authorizer,
		Subscriber:   sub,
		Watchdog:     watchdog,
		Integrations: integrationManager,
		DB:           db,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("constructing API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("API server shutting down")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error shutting down API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	log.Info("NoLongerEvil Thermostat Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NOLONGEREVIL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NOLONGEREVIL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
