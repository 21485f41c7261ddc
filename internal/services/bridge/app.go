// Package bridge wires the MQTT ingestion path, the persistence gateway and
// the HTTP/gRPC surfaces into one service.
package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc/health"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/api"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/cache"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/command"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/config"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/ingest"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/metrics"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/state"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/storage"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/timeseries"
	"github.com/LeonardoBeccarini/hydroponics_bridge/pkg/broker"
)

type App struct {
	cfg    config.Config
	logger *slog.Logger

	topics  model.TopicMap
	store   *state.Store
	metrics *metrics.Metrics

	db      *sql.DB
	gateway *storage.Gateway
	guarded *storage.GuardedWriter

	influx   influxdb2.Client
	tsWriter *timeseries.Writer
	rdb      *redis.Client

	mqtt      mqtt.Client
	consumer  *broker.MultiConsumer
	publisher *broker.Publisher
	reducer   *ingest.Reducer

	handler   http.Handler
	health    *health.Server
	closeOnce sync.Once
}

// New opens every collaborator. The database is required; InfluxDB and
// Redis are optional and skipped with a warning when unreachable. An
// unreachable broker is not fatal: the client keeps retrying.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		topics:  model.NewTopicMap(cfg.DevicePrefix, cfg.Topics),
		store:   state.NewStore(),
		metrics: metrics.New(),
		health:  health.NewServer(),
	}

	// === Database ===
	db, dialect, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	loc, _ := time.LoadLocation(cfg.Database.Timezone)
	a.gateway = storage.NewGateway(db, dialect,
		storage.WithScanWindow(cfg.Database.ScanWindow),
		storage.WithLocation(loc),
	)
	if err := a.gateway.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	a.guarded = storage.NewGuardedWriter(a.gateway, cfg.Breaker, a.onBreakerChange)

	reducerOpts := []ingest.Option{
		ingest.WithWriter("sql", a.guarded),
		ingest.WithMetrics(a.metrics),
		ingest.WithWriteTimeout(cfg.Database.WriteTimeout),
	}

	// === InfluxDB (optional) ===
	if cfg.Influx.Enabled() {
		a.influx, a.tsWriter = timeseries.Open(cfg.Influx, cfg.DevicePrefix, logger)
		reducerOpts = append(reducerOpts, ingest.WithWriter("influx", a.tsWriter))
		logger.Info("influx mirror enabled", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}

	// === Redis (optional) ===
	if cfg.Redis.Enabled() {
		rdb, err := cache.Open(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis snapshot cache disabled", "error", err)
		} else {
			a.rdb = rdb
			reducerOpts = append(reducerOpts, ingest.WithSnapshotSink(cache.New(rdb, cfg.Redis.Key, cfg.Redis.TTL)))
		}
	}

	a.reducer = ingest.NewReducer(a.topics, a.store, logger, reducerOpts...)

	// === MQTT ===
	a.consumer = broker.NewMultiConsumer(a.topics.SubscribeTopics(), cfg.MQTT.QoS, a.reducer.Handle, logger)
	client, err := broker.NewConn(ctx, &cfg.MQTT, a.consumer.OnConnect, logger)
	var connErr *broker.ConnectionError
	switch {
	case errors.As(err, &connErr):
		logger.Error("mqtt broker unreachable, retrying in background", "error", err)
	case err != nil:
		a.closeStores()
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	a.mqtt = client
	a.publisher = broker.NewPublisher(client, cfg.MQTT.QoS, cfg.MQTT.PublishTimeout)

	// === HTTP ===
	dispatcher := command.NewDispatcher(a.publisher, a.topics, logger, a.metrics)
	a.handler = api.NewRouter(api.Deps{
		Snapshot: a.store,
		Commands: dispatcher,
		History:  a.gateway,
		MQTT:     a.publisher,
		Checks:   a.readinessChecks(),
		Metrics:  a.metrics.Handler(),
		Logger:   logger,
	})
	return a, nil
}

// Handler returns the HTTP router.
func (a *App) Handler() http.Handler { return a.handler }

// Store exposes the live snapshot, mostly for tests.
func (a *App) Store() *state.Store { return a.store }

func (a *App) readinessChecks() map[string]api.Check {
	checks := map[string]api.Check{
		"database": func(ctx context.Context) error {
			if st := a.guarded.State(); st == gobreaker.StateOpen {
				return fmt.Errorf("circuit breaker %s", st)
			}
			return a.gateway.Ping(ctx)
		},
	}
	if a.tsWriter != nil {
		checks["timeseries"] = func(context.Context) error {
			if age := a.tsWriter.LastErrorAge(); age < 30*time.Second {
				return fmt.Errorf("write error %s ago", age.Round(time.Second))
			}
			return nil
		}
	}
	if a.rdb != nil {
		checks["cache"] = func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }
	}
	return checks
}

func (a *App) onBreakerChange(name string, from, to gobreaker.State) {
	a.logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
	a.metrics.SetBreakerOpen(name, to != gobreaker.StateClosed)
}

func (a *App) closeStores() {
	if a.influx != nil {
		a.tsWriter.Flush()
		a.influx.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
