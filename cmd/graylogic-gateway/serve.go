package main

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/audit"
	"github.com/nerrad567/gray-logic-gateway/internal/commissioning"
	"github.com/nerrad567/gray-logic-gateway/internal/device"
	"github.com/nerrad567/gray-logic-gateway/internal/discovery"
	"github.com/nerrad567/gray-logic-gateway/internal/driver"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
	"github.com/nerrad567/gray-logic-gateway/internal/metrics"
	"github.com/nerrad567/gray-logic-gateway/internal/property"
	"github.com/nerrad567/gray-logic-gateway/internal/retry"
	"github.com/nerrad567/gray-logic-gateway/internal/stack"
	"github.com/nerrad567/gray-logic-gateway/internal/subsystem"
	"github.com/nerrad567/gray-logic-gateway/internal/subsystems"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath())
		},
	}
}

// shutdownStack runs cleanup steps in reverse order of registration and
// combines their errors.
type shutdownStack struct {
	log   *logging.Logger
	steps []shutdownStep
}

type shutdownStep struct {
	name string
	fn   func() error
}

func (s *shutdownStack) push(name string, fn func() error) {
	s.steps = append(s.steps, shutdownStep{name: name, fn: fn})
}

func (s *shutdownStack) run() error {
	var errs error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		s.log.Info("stopping " + step.name)
		if err := step.fn(); err != nil {
			s.log.Error("error stopping "+step.name, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	return errs
}

// startScheduling starts the stack executor and the retry runner and pushes
// their teardown. The executor outlives ctx: subsystems and discoverers still
// schedule releases while the shutdown stack unwinds.
func startScheduling(ctx context.Context, queueSize int, log *logging.Logger, shutdown *shutdownStack) (*stack.Executor, *retry.Runner) {
	executor := stack.NewExecutor(queueSize)
	executor.SetLogger(log.Component("stack"))
	executor.Start(context.WithoutCancel(ctx))
	shutdown.push("stack executor", func() error { executor.Stop(); return nil })

	runner := retry.NewRunner(clock.New())
	runner.SetLogger(log.Component("retry"))
	shutdown.push("retry runner", func() error { runner.Close(); return nil })
	return executor, runner
}

// run is the gateway daemon, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) (err error) {
	log := logging.Default()
	log.Info("starting Gray Logic Gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	shutdown := &shutdownStack{log: log}
	defer func() {
		err = multierr.Append(err, shutdown.run())
		log.Info("Gray Logic Gateway stopped")
	}()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	shutdown.push("database", db.Close)
	log.Info("database ready", "path", cfg.Database.Path)

	m := metrics.New()

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		shutdown.push("MQTT", mqttClient.Close)
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		shutdown.push("InfluxDB", influxClient.Close)
		influxClient.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	hub := api.NewHub(cfg.WebSocket, log)
	events := &eventFanout{hub: hub, logger: log.Component("events")}
	if mqttClient != nil {
		events.bus = mqttClient
	}

	executor, runner := startScheduling(ctx, cfg.Stack.QueueSize, log, shutdown)

	registry, matterSub, err := buildSubsystems(cfg, db, runner, executor, m, log)
	if err != nil {
		return err
	}
	registry.AddReadinessObserver(func(name string, ready bool) {
		m.SetSubsystemReady(name, ready)
		if influxClient != nil {
			influxClient.WriteSubsystemReadiness(name, ready)
		}
		events.readiness(name, ready, registry.Readiness())
	})

	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log.Component("device"))
	if err := deviceRegistry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	metadata, err := discovery.NewMetadataStore(nil, cfg.Commissioning.MetadataCacheSize)
	if err != nil {
		return fmt.Errorf("creating metadata store: %w", err)
	}
	serviceDeps := device.ServiceDeps{Publisher: events, Metrics: m, Metadata: metadata}
	if influxClient != nil {
		serviceDeps.States = influxClient
	}
	deviceService := device.NewService(deviceRegistry, serviceDeps)
	deviceService.SetLogger(log.Component("device"))
	metadata.SetPersister(deviceService)

	auditRepo := audit.NewSQLiteRepository(db.DB)

	var (
		commissioner api.Commissioner
		refresher    api.DeviceRefresher
	)
	if matterSub != nil {
		factory := driver.NewFactory(matterSub.Controller(), executor)
		factory.SetLogger(log.Component("driver"))
		factory.SetReadParams(matterSub.ReadParams())
		refresher = driver.NewRefresher(factory, deviceRegistry, deviceService, 0)

		recorder := commissioning.MultiRecorder{
			commissioning.MetricsRecorder(m),
			commissioning.AuditRecorder(auditRepo, log.Component("audit")),
		}
		if influxClient != nil {
			recorder = append(recorder, commissioning.TelemetryRecorder(influxClient))
		}

		orchestrator, err := commissioning.NewOrchestrator(commissioning.Deps{
			Controller: matterSub.Controller(),
			Executor:   executor,
			Drivers:    factory,
			Devices:    deviceService,
			Metadata:   metadata,
			Recorder:   recorder,
			ReadParams: matterSub.ReadParams(),
		})
		if err != nil {
			return fmt.Errorf("creating commissioning orchestrator: %w", err)
		}
		orchestrator.SetLogger(log.Component("commissioning"))
		orchestrator.SetProgressFunc(events.progress)
		commissioner = orchestrator
	} else {
		log.Warn("matter subsystem disabled, commissioning unavailable")
	}

	browser, err := matter.NewBrowser(cfg.Commissioning.BrowseTimeout)
	if err != nil {
		return fmt.Errorf("creating DNS-SD browser: %w", err)
	}
	browser.SetLogger(log.Component("dnssd"))

	if err := registry.InitializeAll(ctx, registry.NotifyAllServicesAvailable); err != nil {
		log.Warn("some subsystems failed to start", "error", err)
	}
	shutdown.push("subsystems", func() error { registry.ShutdownAll(); return nil })

	apiDeps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		Commissioning: cfg.Commissioning,
		Logger:        log.Component("api"),
		Subsystems:    registry,
		Commissioner:  commissioner,
		Devices:       deviceRegistry,
		Refresher:     refresher,
		Audit:         auditRepo,
		Browser:       browser,
		Metrics:       m.Handler(),
		StateDir:      cfg.Subsystems.StateDir,
		Hub:           hub,
		Version:       version,
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
		if refresher != nil {
			err := mqttClient.HandleRefreshRequests(func(id string) error {
				_, err := refresher.Refresh(ctx, id)
				return err
			})
			if err != nil {
				log.Warn("MQTT refresh requests unavailable", "error", err)
			}
		}
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if err := server.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	shutdown.push("API server", server.Close)

	checks := []healthCheck{{name: "database", check: db.HealthCheck}}
	if mqttClient != nil {
		checks = append(checks, healthCheck{name: "MQTT", check: mqttClient.HealthCheck})
	}
	if influxClient != nil {
		checks = append(checks, healthCheck{name: "InfluxDB", check: influxClient.HealthCheck})
	}
	g.Go(func() error {
		return healthLoop(gctx, log, checks)
	})

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"subsystems", registry.Names(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return g.Wait()
}

// openDatabase opens SQLite and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := openDatabaseOnly(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Already failing; the migration error matters
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func openDatabaseOnly(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// buildSubsystems registers the enabled subsystems in dependency order:
// thread and zigbee first, then matter.
//
// Returns:
//   - *subsystem.Registry: the populated registry, not yet initialised
//   - *subsystems.Matter: the Matter subsystem, or nil when disabled
//   - error: if the Matter backend cannot be built
func buildSubsystems(cfg *config.Config, db *database.DB, runner *retry.Runner, exec stack.Scheduler, m *metrics.Metrics, log *logging.Logger) (*subsystem.Registry, *subsystems.Matter, error) {
	registry := subsystem.NewRegistry(property.NewSQLiteStore(db.DB),
		subsystem.WithLogger(log.Component("subsystem")))
	root := cfg.Subsystems.StateDir

	var matterDeps []string
	if cfg.Subsystems.Thread.Enabled {
		thread := subsystems.NewThread(subsystems.NetworkOptions{
			Config:          cfg.Subsystems.Thread,
			StateRoot:       root,
			Runner:          runner,
			OnDaemonRestart: m.IncDaemonRestarts,
		})
		thread.SetLogger(log.Component(subsystems.NameThread))
		registry.Register(thread)
		matterDeps = append(matterDeps, subsystems.NameThread)
	}
	if cfg.Subsystems.Zigbee.Enabled {
		zigbee := subsystems.NewZigbee(subsystems.NetworkOptions{
			Config:          cfg.Subsystems.Zigbee,
			StateRoot:       root,
			Runner:          runner,
			OnDaemonRestart: m.IncDaemonRestarts,
		})
		zigbee.SetLogger(log.Component(subsystems.NameZigbee))
		registry.Register(zigbee)
	}

	if !cfg.Subsystems.Matter.Enabled {
		return registry, nil, nil
	}
	matterSub, err := subsystems.NewMatter(subsystems.MatterOptions{
		Config:    cfg.Subsystems.Matter,
		StateRoot: root,
		Runner:    runner,
		Executor:  exec,
		DependsOn: matterDeps,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building matter subsystem: %w", err)
	}
	matterSub.SetLogger(log.Component(subsystems.NameMatter))
	registry.Register(matterSub)
	return registry, matterSub, nil
}

// healthCheckInterval is how often infrastructure connections are checked
// while the gateway runs.
const healthCheckInterval = 30 * time.Second

// healthCheck is one infrastructure connection polled by healthLoop.
type healthCheck struct {
	name  string
	check func(context.Context) error
}

// healthLoop logs infrastructure connections that stop answering. It returns
// when ctx is cancelled.
func healthLoop(ctx context.Context, log *logging.Logger, checks []healthCheck) error {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, hc := range checks {
				if err := hc.check(ctx); err != nil {
					log.Warn("health check failed", "component", hc.name, "error", err)
				}
			}
		}
	}
}
