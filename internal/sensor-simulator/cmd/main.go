// cmd/sensor-sim/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/config"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
	sensorSimulator "github.com/LeonardoBeccarini/hydroponics_bridge/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/hydroponics_bridge/pkg/broker"
)

func main() {
	// define flags
	interval := flag.Duration("interval", 5*time.Second, "publish interval")
	temp := flag.Float64("temp", 26, "initial temperature")
	hum := flag.Float64("humidity", 65, "initial humidity")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	// broker and topic layout are shared with the bridge
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	cfg.MQTT.ClientPrefix = "Simulator_Hidroponik_"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topics := model.NewTopicMap(cfg.DevicePrefix, cfg.Topics)
	generator := sensorSimulator.NewDataGenerator(*seed, *temp, *hum)

	// the handler is injected once the simulator exists
	control := []string{topics.Topic(model.FieldRelayControl)}
	consumer := broker.NewMultiConsumer(control, cfg.MQTT.QoS, nil, logger)
	client, err := broker.NewConn(ctx, &cfg.MQTT, consumer.OnConnect, logger)
	var connErr *broker.ConnectionError
	if err != nil && !errors.As(err, &connErr) {
		logger.Error("mqtt connect error", "error", err)
		os.Exit(1)
	}
	defer broker.Close(client)

	publisher := broker.NewPublisher(client, cfg.MQTT.QoS, cfg.MQTT.PublishTimeout)
	sim := sensorSimulator.NewDeviceSimulator(topics, generator, publisher, logger)
	consumer.SetHandler(sim.HandleMessage)

	logger.Info("device simulator running", "device", cfg.DevicePrefix, "interval", *interval)
	sim.Start(ctx, *interval)
	sim.Wait()
}
