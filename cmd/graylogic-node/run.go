package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/history"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/gpio"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/pin"
	"github.com/nerrad567/gray-logic-node/internal/reload"
	"github.com/nerrad567/gray-logic-node/internal/telemetry"
)

const (
	healthInterval = time.Minute
	pruneInterval  = time.Hour
	storeTimeout   = 5 * time.Second
)

// run is the node's lifecycle, separated from main for testability.
//
// It claims hardware, loads the document, starts telemetry and the optional
// document watcher, then blocks until ctx is cancelled. Returning an error
// allows main to map it to an exit code.
func run(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	drv, err := gpio.Open(cfg.GPIO.Driver)
	if err != nil {
		return fmt.Errorf("opening gpio driver: %w", err)
	}
	guard := pin.NewGuard(drv)
	guard.SetLogger(log.Component("pin"))
	log.Info("gpio driver ready", "driver", cfg.GPIO.Driver)

	opts := []node.Option{
		node.WithLogger(log.Component("node")),
		node.WithGPIO(drv),
		node.WithPins(guard),
		node.WithMQTTDefaults(cfg.MQTT),
		node.WithSerialDefaults(cfg.Serial),
	}
	if cfg.Node.Validate {
		v, vErr := node.NewValidator()
		if vErr != nil {
			return fmt.Errorf("loading node schema: %w", vErr)
		}
		opts = append(opts, node.WithValidator(v))
	}

	// Open database (optional)
	var (
		db   *database.DB
		repo *history.Repository
	)
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		repo = history.NewRepository(db.DB)
		log.Info("database ready", "path", cfg.Database.Path)
	} else {
		log.Info("database disabled")
	}

	// Build the device graph
	g, err := node.LoadFile(cfg.Node.Document, opts...)
	if err != nil {
		return fmt.Errorf("loading node document %s: %w", cfg.Node.Document, err)
	}
	defer func() {
		log.Info("closing device graph")
		if closeErr := g.Close(); closeErr != nil {
			log.Error("error closing device graph", "error", closeErr)
		}
	}()
	log = log.ForNode(g.ID())
	comms, outputs, events, inputs := g.Counts()
	log.Info("node document loaded",
		"path", cfg.Node.Document,
		"name", g.Name(),
		"comms", comms,
		"outputs", outputs,
		"events", events,
		"inputs", inputs,
	)

	influxClient := connectInflux(cfg, g.ID(), log)
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	mqttClient := connectStatus(cfg, g.ID(), log)
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	// Telemetry
	recOpts := []telemetry.Option{telemetry.WithLogger(log.Component("telemetry"))}
	if repo != nil && cfg.Telemetry.History {
		recOpts = append(recOpts, telemetry.WithHistory(repo))
	}
	if influxClient != nil {
		recOpts = append(recOpts, telemetry.WithPoints(influxClient))
	}
	if mqttClient != nil {
		recOpts = append(recOpts, telemetry.WithPublisher(mqttClient))
	}
	if cfg.Telemetry.Presses {
		recOpts = append(recOpts, telemetry.WithPresses())
	}
	rec := telemetry.New(g.ID(), recOpts...)
	defer rec.Close()
	log.Info("telemetry attached", "modules", rec.Attach(g))

	// Background workers stop before any deferred resource is closed.
	runCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rec.Run(runCtx)
	}()

	reapply := func() error {
		data, readErr := os.ReadFile(cfg.Node.Document)
		if readErr != nil {
			return fmt.Errorf("reading node document: %w", readErr)
		}
		if applyErr := g.Apply(data); applyErr != nil {
			return applyErr
		}
		rec.Attach(g)
		return nil
	}

	var watcher *reload.Watcher
	if cfg.Node.Watch {
		watcher, err = reload.New(cfg.Node.Document, g,
			reload.WithDebounce(cfg.GetWatchDebounce()),
			reload.WithLogger(log.Component("reload")),
			reload.WithOnApplied(func(applyErr error) {
				if applyErr == nil {
					rec.Attach(g)
				}
			}),
		)
		if err != nil {
			return fmt.Errorf("watching node document: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if watchErr := watcher.Run(runCtx); watchErr != nil {
				log.Error("document watcher stopped", "error", watchErr)
			}
		}()
		log.Info("watching node document", "path", watcher.Path())
	}

	if repo != nil && cfg.GetRetention() > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneLoop(runCtx, repo, cfg.GetRetention(), log)
		}()
	}

	h := health{db: db, mqtt: mqttClient, influx: influxClient, graph: g, rec: rec}
	if healthErr := h.check(ctx); healthErr != nil {
		log.Warn("health check failed", "error", healthErr)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.loop(runCtx, log)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(signals)

	log.Info("Gray Logic node running")

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			stop()
			wg.Wait()
			if cfg.Node.SnapshotOnShutdown {
				saveSnapshot(repo, g, history.ReasonShutdown, log)
			}
			return nil

		case sig := <-signals:
			switch sig {
			case syscall.SIGHUP:
				if reloadErr := reapply(); reloadErr != nil {
					log.Error("reloading node document failed", "error", reloadErr)
				} else {
					log.Info("node document reloaded")
				}
			case syscall.SIGUSR1:
				saveSnapshot(repo, g, history.ReasonManual, log)
			}
		}
	}
}

// connectInflux connects to InfluxDB when enabled. Failure is logged and the
// node runs without time-series output.
func connectInflux(cfg *config.Config, nodeID string, log *logging.Logger) *influxdb.Client {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil
	}
	client, err := influxdb.Connect(cfg.InfluxDB, map[string]string{"node_id": nodeID})
	if err != nil {
		log.Warn("InfluxDB unavailable, continuing without time-series output", "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client
}

// connectStatus opens the node's own broker connection, which carries the
// retained online/offline status and value topics. It is best-effort: MqttComm
// modules hold their own connections.
func connectStatus(cfg *config.Config, nodeID string, log *logging.Logger) *mqtt.Client {
	if cfg.MQTT.Broker.Host == "" {
		return nil
	}
	statusCfg := cfg.MQTT
	statusCfg.Broker.ClientID = cfg.MQTT.Broker.ClientID + "-" + nodeID

	client, err := mqtt.Connect(statusCfg,
		mqtt.WithStatusTopic(mqtt.Topics{}.NodeStatus(nodeID)),
		mqtt.WithLogger(log.Component("mqtt")),
	)
	if err != nil {
		log.Warn("MQTT status connection unavailable", "error", err)
		return nil
	}
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"status_topic", client.StatusTopic(),
	)
	return client
}

// saveSnapshot stores the serialised graph. A nil repository means the
// database is disabled.
func saveSnapshot(repo *history.Repository, g *node.Graph, reason string, log *logging.Logger) {
	if repo == nil {
		log.Warn("snapshot skipped, database disabled", "reason", reason)
		return
	}
	doc, err := g.ToJSON()
	if err != nil {
		log.Error("serialising node document failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := repo.SaveSnapshot(ctx, g.ID(), doc, reason); err != nil {
		log.Error("saving snapshot failed", "error", err)
		return
	}
	log.Info("snapshot saved", "reason", reason, "bytes", len(doc))
}

// pruneLoop deletes value history older than retention, once at start and
// then every pruneInterval.
func pruneLoop(ctx context.Context, repo *history.Repository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := repo.PruneHistory(ctx, retention)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			log.Error("pruning value history failed", "error", err)
		case n > 0:
			log.Info("value history pruned", "rows", n, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// health checks every connection the node depends on.
type health struct {
	db     *database.DB
	mqtt   *mqtt.Client
	influx *influxdb.Client
	graph  *node.Graph
	rec    *telemetry.Recorder
}

// check returns every failing dependency joined into one error.
func (h health) check(ctx context.Context) error {
	var errs []error

	if h.db != nil {
		if err := h.db.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if h.mqtt != nil {
		if err := h.mqtt.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if h.influx != nil {
		if err := h.influx.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	if h.graph != nil {
		for _, c := range h.graph.Comms() {
			if err := c.HealthCheck(ctx); err != nil {
				errs = append(errs, fmt.Errorf("comm %s: %w", c.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (h health) loop(ctx context.Context, log *logging.Logger) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, storeTimeout)
			if err := h.check(checkCtx); err != nil && ctx.Err() == nil {
				log.Warn("health check failed", "error", err)
			}
			cancel()
			h.writeStats()
		}
	}
}

// writeStats records module counts and telemetry throughput as a node_stats
// point.
func (h health) writeStats() {
	if h.influx == nil || h.graph == nil {
		return
	}
	comms, outputs, events, inputs := h.graph.Counts()
	fields := map[string]interface{}{
		"comms":   comms,
		"outputs": outputs,
		"events":  events,
		"inputs":  inputs,
	}
	if h.rec != nil {
		fields["recorded"] = int64(h.rec.Recorded())
		fields["dropped"] = int64(h.rec.Dropped())
	}
	h.influx.WritePoint(influxdb.MeasurementNodeStats, nil, fields)
}
