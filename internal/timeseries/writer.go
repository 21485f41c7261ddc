// Package timeseries mirrors persisted readings into InfluxDB for
// long-range charts.
package timeseries

import (
	"context"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

type Config struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// Enabled reports whether enough is configured to open a client.
func (c Config) Enabled() bool {
	return c.URL != "" && c.Bucket != ""
}

// pointWriter is the subset of api.WriteAPI the mirror needs.
type pointWriter interface {
	WritePoint(point *write.Point)
	Errors() <-chan error
	Flush()
}

// Writer wraps the non-blocking write API and remembers when the last
// asynchronous write error happened, for /readyz.
type Writer struct {
	api         pointWriter
	measurement string
	tags        map[string]string
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.RWMutex
	lastErr time.Time
	written int64
}

// NewWriter starts the listener for asynchronous Influx errors.
func NewWriter(w pointWriter, measurement string, tags map[string]string, logger *slog.Logger) *Writer {
	if measurement == "" {
		measurement = "hydroponic_reading"
	}
	if logger == nil {
		logger = slog.Default()
	}
	ww := &Writer{
		api:         w,
		measurement: measurement,
		tags:        tags,
		logger:      logger,
		now:         time.Now,
		lastErr:     time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range w.Errors() {
			if err == nil {
				continue
			}
			ww.mu.Lock()
			ww.lastErr = ww.now()
			ww.mu.Unlock()
			ww.logger.Error("influx write error", "error", err)
		}
	}()
	return ww
}

// Open connects a client and returns the mirror writer on top of it.
// Close the client when done; it flushes pending points.
func Open(cfg Config, device string, logger *slog.Logger) (influxdb2.Client, *Writer) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	wapi := client.WriteAPI(cfg.Org, cfg.Bucket)
	return client, NewWriter(wapi, cfg.Measurement, map[string]string{"device": device}, logger)
}

// InsertReading queues a point. The write API batches in the background,
// so failures surface on the error channel rather than here.
func (w *Writer) InsertReading(_ context.Context, temperature, humidity float64, brightness int) error {
	w.api.WritePoint(ReadingToPoint(w.measurement, w.tags, temperature, humidity, brightness, w.now()))
	w.mu.Lock()
	w.written++
	w.mu.Unlock()
	return nil
}

// Flush forces pending points out.
func (w *Writer) Flush() {
	if w != nil {
		w.api.Flush()
	}
}

// LastErrorAge returns how long ago the last write error happened.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return w.now().Sub(t)
}

// Written counts points queued since start.
func (w *Writer) Written() int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written
}
