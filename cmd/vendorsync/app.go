package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/vendorsync/internal/credential"
	"github.com/nerrad567/vendorsync/internal/infrastructure/config"
	"github.com/nerrad567/vendorsync/internal/infrastructure/database"
	"github.com/nerrad567/vendorsync/internal/infrastructure/influxdb"
	"github.com/nerrad567/vendorsync/internal/infrastructure/logging"
	"github.com/nerrad567/vendorsync/internal/infrastructure/mqtt"
	"github.com/nerrad567/vendorsync/internal/infrastructure/redis"
	"github.com/nerrad567/vendorsync/internal/measurement"
	"github.com/nerrad567/vendorsync/internal/metrics"
	"github.com/nerrad567/vendorsync/internal/orchestrator"
	"github.com/nerrad567/vendorsync/internal/topology"
	"github.com/nerrad567/vendorsync/internal/trigger"
	"github.com/nerrad567/vendorsync/internal/vendor"
	"github.com/nerrad567/vendorsync/migrations"
)

// app holds the infrastructure and domain services shared by every command.
type app struct {
	cfg *config.Config
	log *logging.Logger
	loc *time.Location

	db     *database.DB
	kv     *redis.Store
	bus    *mqtt.Client
	influx *influxdb.Client

	topology   *topology.SQLiteRepository
	store      *measurement.Store
	correlator *trigger.Correlator
	sessions   *credential.Cache
	publisher  *orchestrator.BusPublisher

	// clients is keyed by server name.
	clients map[string]*vendor.Client

	closers []func()
}

// newApp connects every dependency. On error, whatever was already opened
// is closed again.
func newApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, clients: make(map[string]*vendor.Client)}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	var err error

	metrics.Init(nil)

	if a.loc, err = time.LoadLocation(cfg.Vendor.Timezone); err != nil {
		return nil, fmt.Errorf("loading vendor timezone: %w", err)
	}

	if a.db, err = database.Open(cfg.Database); err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.onClose("database", a.db.Close)
	log.Info("database connected", "path", cfg.Database.Path)

	if err = a.db.Migrate(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	if a.kv, err = redis.Connect(cfg.Redis); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	a.onClose("redis", a.kv.Close)
	log.Info("redis connected", "addr", cfg.Redis.Addr)

	if a.bus, err = mqtt.Connect(cfg.MQTT); err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	a.bus.SetLogger(log)
	a.onClose("MQTT", a.bus.Close)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	if a.influx, err = influxdb.Connect(cfg.InfluxDB); err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	a.onClose("InfluxDB", a.influx.Close)
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	a.topology = topology.NewSQLiteRepository(a.db.DB)
	a.publisher = orchestrator.NewBusPublisher(a.bus, a.bus.Topics())
	a.correlator = trigger.NewCorrelator(a.kv, log)
	a.sessions = credential.NewCache(a.kv)

	a.store, err = measurement.NewStore(measurement.Options{
		Backend:   measurement.NewInfluxBackend(a.influx),
		Publisher: a.publisher,
		Logger:    log,
		Suffix:    cfg.InfluxDB.MeasurementSuffix,
	})
	if err != nil {
		return nil, fmt.Errorf("creating measurement store: %w", err)
	}

	for _, name := range cfg.Vendor.ServerNames() {
		srv := cfg.Vendor.Servers[name]
		client, clientErr := vendor.NewClient(vendor.ClientOptions{
			Server: vendor.ServerConfig{
				Name:     name,
				Host:     srv.Host,
				WSHost:   srv.WSHost,
				User:     srv.User,
				Password: srv.Password,
			},
			Sessions: a.sessions,
			Logger:   log.With("server", name),
			Timeout:  cfg.Vendor.HTTPTimeout,
		})
		if clientErr != nil {
			return nil, fmt.Errorf("creating vendor client %q: %w", name, clientErr)
		}
		a.clients[name] = client
	}

	ready = true
	return a, nil
}

// onClose registers fn to run, most recent first, when the app closes.
func (a *app) onClose(name string, fn func() error) {
	a.closers = append(a.closers, func() {
		a.log.Info("closing " + name)
		if err := fn(); err != nil {
			a.log.Error("error closing "+name, "error", err)
		}
	})
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// resetSessions drops the cached session of every configured server so the
// next call logs in again.
func (a *app) resetSessions(ctx context.Context) error {
	for _, name := range a.cfg.Vendor.ServerNames() {
		if err := a.clients[name].Invalidate(ctx); err != nil {
			return fmt.Errorf("resetting session for %q: %w", name, err)
		}
		a.log.Info("vendor session reset", "server", name)
	}
	return nil
}

// newOrchestrator builds the orchestrator for one server.
func (a *app) newOrchestrator(name string) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(orchestrator.Options{
		Client:            a.clients[name],
		Topology:          a.topology,
		Store:             a.store,
		Correlator:        a.correlator,
		Logger:            a.log.With("server", name),
		Vendor:            a.cfg.Vendor.Name,
		Site:              a.cfg.Site.ID,
		Location:          a.loc,
		HealthCheckWindow: a.cfg.Vendor.HealthCheckWindow,
		QueueSize:         a.cfg.Vendor.QueueSize,
	})
}

// newChanger builds the outbound change path. Parameters carrying the vendor
// capability are written through the client of the gateway's server.
func (a *app) newChanger() (*orchestrator.Changer, error) {
	writers := make(map[string]orchestrator.DeviceWriter, len(a.clients))
	for name, c := range a.clients {
		writers[name] = c
	}
	return orchestrator.NewChanger(orchestrator.ChangerOptions{
		Topology:   a.topology,
		Correlator: a.correlator,
		Events:     a.publisher,
		Logger:     a.log,
		Store:      a.store,
		Actuators: map[string]orchestrator.Actuator{
			a.cfg.Vendor.Name: orchestrator.NewVendorActuator(writers),
		},
	})
}
