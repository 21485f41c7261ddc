// Package ingest turns inbound MQTT messages into snapshot updates and
// decides when a reading is worth persisting.
package ingest

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/metrics"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/state"
	"github.com/LeonardoBeccarini/hydroponics_bridge/pkg/broker"
)

// ReadingWriter receives qualifying readings.
type ReadingWriter interface {
	InsertReading(ctx context.Context, temperature, humidity float64, brightness int) error
}

// SnapshotSink receives every post-update snapshot.
type SnapshotSink interface {
	Store(ctx context.Context, snap model.SensorSnapshot) error
}

type sink struct {
	name string
	w    ReadingWriter
}

// applyFunc mutates the snapshot for one field. It runs under the store lock.
type applyFunc func(s *model.SensorSnapshot, payload string)

// Reducer is the single MQTT handler of the bridge.
type Reducer struct {
	topics   model.TopicMap
	store    *state.Store
	handlers map[model.Field]applyFunc
	sinks    []sink
	cache    SnapshotSink
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Reducer)

// WithWriter adds a persistence target. Every target gets its own
// asynchronous write per qualifying update.
func WithWriter(name string, w ReadingWriter) Option {
	return func(r *Reducer) {
		if w != nil {
			r.sinks = append(r.sinks, sink{name: name, w: w})
		}
	}
}

func WithSnapshotSink(s SnapshotSink) Option {
	return func(r *Reducer) { r.cache = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reducer) { r.metrics = m }
}

// WithWriteTimeout bounds each asynchronous write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Reducer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewReducer(topics model.TopicMap, store *state.Store, logger *slog.Logger, opts ...Option) *Reducer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reducer{
		topics:  topics,
		store:   store,
		timeout: 5 * time.Second,
		logger:  logger,
	}
	r.handlers = map[model.Field]applyFunc{
		model.FieldTemperature: func(s *model.SensorSnapshot, p string) { s.Temperature = parseReading(p) },
		model.FieldHumidity:    func(s *model.SensorSnapshot, p string) { s.Humidity = parseReading(p) },
		model.FieldStatus:      func(s *model.SensorSnapshot, p string) { s.StatusText = p },
		model.FieldRelayStatus: applyRelayStatus,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handle applies one message. It never blocks on I/O and never fails:
// unknown topics are dropped and persistence runs in the background.
func (r *Reducer) Handle(msg broker.Message) error {
	field, ok := r.topics.FieldFor(msg.Topic)
	if !ok {
		r.metrics.MessageIgnored()
		r.logger.Debug("ignoring message on unmapped topic", "topic", msg.Topic)
		return nil
	}
	apply, ok := r.handlers[field]
	if !ok {
		// control topic: published by us, never applied
		r.metrics.MessageIgnored()
		return nil
	}

	payload := string(msg.Payload)
	at := msg.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	snap := r.store.Apply(at, func(s *model.SensorSnapshot) { apply(s, payload) })
	r.metrics.MessageApplied(string(field))
	r.logger.Debug("snapshot updated", "topic", msg.Topic, "field", field, "payload", payload)

	if ShouldPersist(snap) {
		for _, s := range r.sinks {
			r.async(s.name, func(ctx context.Context) error {
				return s.w.InsertReading(ctx, snap.Temperature, snap.Humidity, 0)
			})
		}
	}
	if r.cache != nil {
		r.async("cache", func(ctx context.Context) error { return r.cache.Store(ctx, snap) })
	}
	return nil
}

// ShouldPersist holds when both readings on the current snapshot are
// positive and finite. NaN and ±Inf stay in the snapshot but are never
// stored.
func ShouldPersist(s model.SensorSnapshot) bool {
	return storable(s.Temperature) && storable(s.Humidity)
}

func storable(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// Wait blocks until all in-flight background writes have finished.
func (r *Reducer) Wait() {
	r.wg.Wait()
}

// Close stops scheduling background writes and drains the in-flight ones.
// Messages handled afterwards still update the snapshot.
func (r *Reducer) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Reducer) async(name string, write func(ctx context.Context) error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debug("reducer closed, dropping background write", "sink", name)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		err := write(ctx)
		r.metrics.WriteResult(name, err)
		if err != nil {
			r.logger.Error("background write failed", "sink", name, "error", err)
		}
	}()
}

// applyRelayStatus keeps the previous state on payloads other than ON/OFF.
func applyRelayStatus(s *model.SensorSnapshot, payload string) {
	if rs, ok := model.ParseRelayState(payload); ok {
		s.RelayStatus = rs
	}
}

// parseReading parses a numeric payload. Anything unparsable becomes NaN
// and is still applied to the snapshot.
func parseReading(payload string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
