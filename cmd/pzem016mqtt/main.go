// pzem016mqtt polls PZEM-016 energy meters over Modbus and publishes their
// readings to an MQTT broker as Home Assistant sensors.
//
// Configuration is read from $CONFIG_FILE_PATH (default ./config.yaml).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/pzem016-mqtt/internal/api"
	"github.com/nerrad567/pzem016-mqtt/internal/broker"
	"github.com/nerrad567/pzem016-mqtt/internal/collector"
	"github.com/nerrad567/pzem016-mqtt/internal/history"
	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/database"
	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/pzem016-mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/pzem016-mqtt/internal/ipc"
	"github.com/nerrad567/pzem016-mqtt/internal/supervisor"
	"github.com/nerrad567/pzem016-mqtt/internal/telemetry"
	"github.com/nerrad567/pzem016-mqtt/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// pruneInterval spaces history retention passes.
const pruneInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled or a
// component fails. A nil return is a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting pzem016mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)
	telemetry.SetBuildInfo(version, commit, date)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	devices := collector.DevicesFromConfig(cfg.ResolvedDevices())
	source := collector.NewPZEMSource(collector.PZEMOptions{
		Gateways:        gatewaysOf(devices),
		Speed:           cfg.Collector.Speed,
		ReadTimeout:     cfg.Collector.ReadTimeout,
		BreakerFailures: cfg.Collector.Breaker.MaxFailures,
		BreakerTimeout:  cfg.Collector.Breaker.OpenTimeout,
		Logger:          log.Component("modbus"),
	})
	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			log.Error("error closing gateways", "error", closeErr)
		}
	}()
	if err := source.Open(ctx); err != nil {
		return fmt.Errorf("connecting to meters: %w", err)
	}
	log.Info("meters configured", "devices", len(devices))

	var recorders []collector.Recorder
	checks := map[string]api.HealthChecker{}

	var (
		db    *database.DB
		store *history.Store
	)
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
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
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		store = history.NewStore(db.DB)
		recorders = append(recorders, store)
		checks["database"] = db
		log.Info("history enabled", "path", cfg.Database.Path)
	}

	if cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorders = append(recorders, influx)
		checks["influxdb"] = influx
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	session, err := mqtt.Connect(cfg.MQTT, log.Component("mqtt"))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	// The broker task disconnects on return; this covers failures before it runs.
	brokerStarted := false
	defer func() {
		if !brokerStarted {
			session.Disconnect()
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	topics := mqtt.Topics{}
	if err := session.Subscribe(topics.HomeAssistantStatus(), byte(cfg.MQTT.QoS)); err != nil {
		return fmt.Errorf("subscribing to Home Assistant status: %w", err)
	}
	checks["mqtt"] = mqtt.SubscriptionCheck{Session: session, Topic: topics.HomeAssistantStatus()}

	coll, err := collector.New(collector.Options{
		Source:            source,
		Devices:           devices,
		SweepInterval:     cfg.Collector.SweepInterval,
		DiscoveryInterval: cfg.Collector.DiscoveryInterval,
		AvailabilityTopic: topics.BridgeStatus(),
		Recorders:         recorders,
		Logger:            log.Component("collector"),
	})
	if err != nil {
		return fmt.Errorf("creating collector: %w", err)
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))

	var brokerTask *broker.Task
	supOpts := supervisor.Options{
		Collector: coll,
		Broker: func(ends ipc.BrokerEnds) (supervisor.Runner, error) {
			t, err := broker.NewTask(broker.Options{
				Session:         session,
				Ends:            ends,
				PublishTimeout:  cfg.MQTT.PublishTimeout,
				QoS:             byte(cfg.MQTT.QoS),
				RetainDiscovery: cfg.MQTT.RetainDiscovery,
				Logger:          log.Component("broker"),
			})
			brokerTask = t
			return t, err
		},
		Bus: ipc.Options{
			QueueCapacity:     cfg.Bus.QueueCapacity,
			BroadcastCapacity: cfg.Bus.BroadcastCapacity,
		},
		ShutdownTimeout: cfg.Supervisor.ShutdownTimeout,
		Restart: supervisor.RestartPolicy{
			InitialDelay: cfg.Supervisor.Restart.InitialDelay,
			MaxDelay:     cfg.Supervisor.Restart.MaxDelay,
			MaxFailures:  cfg.Supervisor.Restart.MaxFailures,
			Window:       cfg.Supervisor.Restart.Window,
			StableAfter:  cfg.Supervisor.Restart.StableAfter,
		},
		InboundHandler: homeAssistantBirth(topics.HomeAssistantStatus(), coll, log),
		OnForward:      hub.Forward,
		Logger:         log.Component("supervisor"),
	}
	if store != nil {
		supOpts.Events = store
	}
	sup, err := supervisor.New(supOpts)
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}

	var srv *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.Component("api"),
			Supervisor: sup,
			Collector:  coll,
			Broker:     brokerTask,
			Gateways:   source,
			Checks:     checks,
			Hub:        hub,
			Version:    version,
		}
		if store != nil {
			deps.History = store
			deps.DB = db
		}
		srv, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	brokerStarted = true
	g.Go(func() error {
		// Supervisor exit, clean or not, ends the process.
		defer stop()
		return sup.Run(gctx)
	})

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if store != nil {
		g.Go(func() error {
			return store.RunPruner(gctx, pruneInterval, cfg.Database.Retention, log.Component("history"))
		})
	}

	if srv != nil {
		g.Go(func() error {
			return srv.Serve(gctx)
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("pzem016mqtt stopped")
	return nil
}

// gatewaysOf lists each distinct gateway once, in device order.
func gatewaysOf(devices []collector.Device) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range devices {
		if !seen[d.Gateway] {
			seen[d.Gateway] = true
			out = append(out, d.Gateway)
		}
	}
	return out
}

// announcer is satisfied by *collector.Collector.
type announcer interface {
	RequestAnnounce()
}

// homeAssistantBirth returns an inbound handler that re-announces discovery
// when Home Assistant publishes "online" on its status topic.
func homeAssistantBirth(statusTopic string, c announcer, log *logging.Logger) func(ipc.Inbound) {
	return func(msg ipc.Inbound) {
		if msg.Topic != statusTopic {
			log.Debug("ignoring inbound message", "topic", msg.Topic)
			return
		}
		if strings.TrimSpace(string(msg.Payload)) != mqtt.StatusOnline {
			return
		}
		log.Info("Home Assistant came online, re-announcing")
		c.RequestAnnounce()
	}
}
