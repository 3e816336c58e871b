// v2
// cmd/aptheat/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/skortchmark9/apt-heat/internal/app"
	"github.com/skortchmark9/apt-heat/internal/config"
)

func main() {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	application, err := app.New(cfg, nil)
	if err != nil {
		bootstrap.Error("controller init failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			bootstrap.Error("controller close failed", slog.Any("err", cerr))
		}
	}()

	logger := application.Logger()
	logger.Info("controller boot",
		slog.String("listen_address", cfg.ListenAddress),
		slog.String("log_path", cfg.LogFilePath),
		slog.String("properties_path", cfg.PropertiesPath),
		slog.String("timezone", cfg.Timezone),
		slog.String("mqtt_broker", cfg.MQTTBroker),
		slog.Duration("heater_poll", cfg.HeaterPollInterval),
		slog.Duration("battery_poll", cfg.BatteryPollInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("controller terminated", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("controller stopped")
}
