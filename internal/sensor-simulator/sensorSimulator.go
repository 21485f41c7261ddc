package sensor_simulator

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
	"github.com/LeonardoBeccarini/hydroponics_bridge/pkg/broker"
)

// Publisher is the subset of broker.Publisher the simulator needs.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

// DeviceSimulator plays the hydroponic controller: it publishes temperature,
// humidity and LED status on a fixed interval and obeys relay commands,
// echoing the applied state on the relay status topic.
type DeviceSimulator struct {
	topics    model.TopicMap
	generator *DataGenerator
	publisher Publisher
	logger    *slog.Logger

	echoes sync.WaitGroup
}

func NewDeviceSimulator(topics model.TopicMap, gen *DataGenerator, pub Publisher, logger *slog.Logger) *DeviceSimulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceSimulator{topics: topics, generator: gen, publisher: pub, logger: logger}
}

// Start publishes a sample every interval until ctx ends. The relay state
// is announced once at startup so the bridge does not wait for a command.
func (s *DeviceSimulator) Start(ctx context.Context, interval time.Duration) {
	s.publishRelay(ctx, s.generator.Pump())

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.PublishSample(ctx)
		}
	}
}

// PublishSample sends one reading on each sensor topic.
func (s *DeviceSimulator) PublishSample(ctx context.Context) {
	sample := s.generator.Next()
	s.logger.Debug("simulated sample", "suhu", sample.Temperature, "humidity", sample.Humidity, "status", sample.Status)

	out := []struct {
		field   model.Field
		payload string
	}{
		{model.FieldTemperature, strconv.FormatFloat(sample.Temperature, 'f', 1, 64)},
		{model.FieldHumidity, strconv.FormatFloat(sample.Humidity, 'f', 1, 64)},
		{model.FieldStatus, sample.Status},
	}
	for _, o := range out {
		if err := s.publisher.Publish(ctx, s.topics.Topic(o.field), o.payload); err != nil {
			s.logger.Warn("publish error", "field", o.field, "error", err)
		}
	}
}

// HandleMessage applies a relay command. Anything but ON/OFF is dropped,
// the same rule the bridge enforces before publishing.
// It runs on paho's delivery goroutine, so the echo is published from a
// separate one: with QoS>=1 the PUBACK is only read once the callback returns.
func (s *DeviceSimulator) HandleMessage(msg broker.Message) error {
	st, ok := model.ParseRelayState(string(msg.Payload))
	if !ok {
		s.logger.Warn("ignoring invalid relay command", "payload", string(msg.Payload))
		return nil
	}
	s.generator.SetPump(st)
	s.logger.Info("pump switched", "state", st)

	s.echoes.Add(1)
	go func() {
		defer s.echoes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.publishRelay(ctx, st)
	}()
	return nil
}

// Wait blocks until pending relay echoes are published.
func (s *DeviceSimulator) Wait() {
	s.echoes.Wait()
}

func (s *DeviceSimulator) publishRelay(ctx context.Context, st model.RelayState) error {
	err := s.publisher.Publish(ctx, s.topics.Topic(model.FieldRelayStatus), string(st))
	if err != nil {
		s.logger.Warn("relay status publish error", "error", err)
	}
	return err
}
