package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/config"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/services/bridge"
)

func main() {
	// ---- CONFIG ----
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- collaborators ----
	app, err := bridge.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bridge startup failed", "error", err)
		os.Exit(1)
	}

	logger.Info("hydroponics bridge started",
		"device", cfg.DevicePrefix, "broker", cfg.MQTT.Addr(), "db", cfg.Database.Driver)
	if err := app.Run(ctx); err != nil {
		logger.Error("bridge stopped with error", "error", err)
		os.Exit(1)
	}
}
