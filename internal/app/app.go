// v5
// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"

	"github.com/skortchmark9/apt-heat/internal/api"
	"github.com/skortchmark9/apt-heat/internal/battery"
	"github.com/skortchmark9/apt-heat/internal/config"
	"github.com/skortchmark9/apt-heat/internal/device"
	"github.com/skortchmark9/apt-heat/internal/ledger"
	"github.com/skortchmark9/apt-heat/internal/metrics"
	"github.com/skortchmark9/apt-heat/internal/recon"
	"github.com/skortchmark9/apt-heat/internal/shadow"
	"github.com/skortchmark9/apt-heat/internal/sleep"
	"github.com/skortchmark9/apt-heat/internal/store"
	"github.com/skortchmark9/apt-heat/internal/tariff"
)

// MQTT topic layout shared with the Tuya and EcoFlow bridge processes.
const (
	heaterTelemetryTopic  = "aptheat/heater/state"
	heaterCommandTopic    = "aptheat/heater/set"
	batteryTelemetryTopic = "aptheat/battery/state"
	batteryCommandTopic   = "aptheat/battery/set"
)

// WeatherFunc returns the current outdoor temperature in degrees F.
// Readings persist it alongside the heater draw so savings can later be
// correlated against how cold it was. A nil func records zero.
type WeatherFunc func(ctx context.Context) (float64, error)

// Application wires configuration, logging, the two reconciliation
// loops, persistence, and the HTTP server into one runnable unit.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	logFile *os.File
	server  *http.Server

	heaterLoop  *recon.Loop
	batteryLoop *recon.Loop
	heaterDrv   *device.MQTTDriver
	batteryDrv  *device.MQTTDriver
	audit       *ledger.Publisher
	closeStore  func() error
}

// New prepares a fully wired controller from the supplied configuration.
// weather may be nil when no outdoor temperature source is available.
func New(cfg config.Config, weather WeatherFunc) (*Application, error) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return nil, errors.New("listen address cannot be empty")
	}
	logPath := filepath.Clean(cfg.LogFilePath)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	lf, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger := newLogger(lf)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		_ = lf.Close()
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	tariffs := tariff.New(loc, tariff.DefaultRates())

	sh := shadow.NewStore()
	device.Declare(sh, device.HeaterChannels())
	device.Declare(sh, device.BatteryChannels())

	session := sleep.NewSession()
	met := metrics.NewMetrics()

	readings, closeStore, err := openStore(cfg, logger)
	if err != nil {
		_ = lf.Close()
		return nil, err
	}

	var audit *ledger.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		audit, err = ledger.NewPublisher(cfg.KafkaBrokers, cfg.AuditTopic, logger.With("component", "audit"))
		if err != nil {
			_ = closeStore()
			_ = lf.Close()
			return nil, fmt.Errorf("audit publisher init: %w", err)
		}
	}

	heaterDrv, err := device.NewMQTTDriver(device.MQTTConfig{
		BrokerURL:      cfg.MQTTBroker,
		ClientID:       cfg.MQTTClientID + "-heater",
		Device:         "heater",
		TelemetryTopic: heaterTelemetryTopic,
		CommandTopic:   heaterCommandTopic,
		MaxAge:         cfg.TelemetryMaxAge,
	}, logger.With("component", "heater_driver"))
	if err != nil {
		audit.Close()
		_ = closeStore()
		_ = lf.Close()
		return nil, fmt.Errorf("heater driver init: %w", err)
	}
	batteryDrv, err := device.NewMQTTDriver(device.MQTTConfig{
		BrokerURL:      cfg.MQTTBroker,
		ClientID:       cfg.MQTTClientID + "-battery",
		Device:         "battery",
		TelemetryTopic: batteryTelemetryTopic,
		CommandTopic:   batteryCommandTopic,
		MaxAge:         cfg.TelemetryMaxAge,
	}, logger.With("component", "battery_driver"))
	if err != nil {
		heaterDrv.Close()
		audit.Close()
		_ = closeStore()
		_ = lf.Close()
		return nil, fmt.Errorf("battery driver init: %w", err)
	}

	clock := recon.Clock(time.Now)

	heaterPol := recon.NewHeaterPolicy(session)
	batteryPol := recon.NewBatteryPolicy(battery.New(battery.Config{
		FullChargeWatts: cfg.BatteryFullChargeWatts,
		LowSoCFloor:     cfg.BatteryLowSoCFloor,
	}), tariffs)

	heaterLoop := recon.NewLoop(recon.Options{
		Device:           "heater",
		Prefix:           "heater_",
		Interval:         cfg.HeaterPollInterval,
		StaleWindow:      cfg.StaleWindow,
		StaleAge:         cfg.StaleAge,
		StaleFields:      []string{"heater_current_temp"},
		FailureThreshold: cfg.FailureThreshold,
		Record: func(ctx context.Context, at time.Time, snap device.Snapshot) {
			r := heaterReading(ctx, at, snap, weather, logger)
			met.SetHeaterWatts(r.PowerWatts)
			_, rate := tariffs.PeriodAndRate(at)
			met.SetTariffRate(rate)
			if err := readings.Append(ctx, r); err != nil {
				logger.Warn("reading append failed", "device", "heater", "error", err)
			}
		},
	}, heaterDrv, sh, heaterPol, clock, logger, met, audit)

	batteryLoop := recon.NewLoop(recon.Options{
		Device:           "battery",
		Prefix:           "battery_",
		Interval:         cfg.BatteryPollInterval,
		StaleWindow:      cfg.StaleWindow,
		StaleAge:         cfg.StaleAge,
		StaleFields:      []string{"battery_soc", "battery_watts_in", "battery_watts_out"},
		FailureThreshold: cfg.FailureThreshold,
		Record: func(ctx context.Context, at time.Time, snap device.Snapshot) {
			if soc, ok := snap["battery_soc"].(float64); ok {
				met.SetBatterySoC(soc)
			}
			r := store.Reading{ID: uuid.NewString(), Timestamp: at, Device: "battery", Channels: snap}
			if err := readings.Append(ctx, r); err != nil {
				logger.Warn("reading append failed", "device", "battery", "error", err)
			}
		},
	}, batteryDrv, sh, batteryPol, clock, logger, met, audit)

	srv := api.NewServer(cfg, logger.With("component", "http"), sh, session, tariffs, heaterPol, batteryPol, readings, met, clock, []*recon.Loop{heaterLoop, batteryLoop})
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handlers.LoggingHandler(os.Stdout, srv.Router()),
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPWriteTimeout,
	}

	return &Application{
		cfg:         cfg,
		logger:      logger,
		logFile:     lf,
		server:      server,
		heaterLoop:  heaterLoop,
		batteryLoop: batteryLoop,
		heaterDrv:   heaterDrv,
		batteryDrv:  batteryDrv,
		audit:       audit,
		closeStore:  closeStore,
	}, nil
}

// openStore picks Postgres when a DSN is configured, else the JSONL
// file store.
func openStore(cfg config.Config, logger *slog.Logger) (store.Store, func() error, error) {
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store init: %w", err)
		}
		logger.Info("readings store ready", "backend", "postgres")
		return pg, pg.Close, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.ReadingsPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create readings directory: %w", err)
	}
	fs, err := store.NewFileStore(cfg.ReadingsPath, logger.With("component", "file_store"))
	if err != nil {
		return nil, nil, fmt.Errorf("file store init: %w", err)
	}
	logger.Info("readings store ready", "backend", "file", "path", cfg.ReadingsPath)
	return fs, fs.Close, nil
}

// heaterReading builds the persisted sample for one heater tick,
// attaching the outdoor temperature when a weather source is wired. A
// failed lookup logs and records the sample without it.
func heaterReading(ctx context.Context, at time.Time, snap device.Snapshot, weather WeatherFunc, logger *slog.Logger) store.Reading {
	r := store.Reading{
		ID:         uuid.NewString(),
		Timestamp:  at,
		Device:     "heater",
		Channels:   snap,
		PowerWatts: heaterDraw(snap),
	}
	if weather != nil {
		if temp, err := weather(ctx); err != nil {
			logger.Warn("outdoor temperature lookup failed", "error", err)
		} else {
			r.OutdoorTempF = temp
		}
	}
	return r
}

// heaterDraw estimates real draw from the reported state. The Lasko
// exposes no power meter channel, so the active heat level stands in.
func heaterDraw(snap device.Snapshot) float64 {
	on, _ := snap["heater_power"].(bool)
	if !on {
		return 0
	}
	level, _ := snap["heater_active_heat_level"].(string)
	return device.WattsByHeatLevel[level]
}

// Logger exposes the configured slog logger so main can emit structured
// logs after initialization.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Run blocks until the context is cancelled or the HTTP server
// terminates unexpectedly. Both device loops run for the whole lifetime
// and stop with the context.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopsDone := make(chan struct{})
	go func() {
		defer close(loopsDone)
		done := make(chan struct{}, 2)
		go func() { a.heaterLoop.Run(ctx); done <- struct{}{} }()
		go func() { a.batteryLoop.Run(ctx); done <- struct{}{} }()
		<-done
		<-done
	}()

	httpCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "address", a.cfg.ListenAddress)
		httpCh <- a.server.ListenAndServe()
	}()

	var httpErr error
	select {
	case err := <-httpCh:
		httpCh = nil
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", "error", err)
			httpErr = err
		}
		cancel()
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("http shutdown failed", "error", err)
		if httpErr == nil {
			httpErr = fmt.Errorf("shutdown: %w", err)
		}
	}
	if httpCh != nil {
		if err := <-httpCh; err != nil && !errors.Is(err, http.ErrServerClosed) && httpErr == nil {
			httpErr = err
		}
	}
	<-loopsDone

	a.logger.Info("shutdown complete")
	return httpErr
}

// Close releases drivers, the audit stream, the readings store, and the
// log file.
func (a *Application) Close() error {
	if a.heaterDrv != nil {
		a.heaterDrv.Close()
		a.heaterDrv = nil
	}
	if a.batteryDrv != nil {
		a.batteryDrv.Close()
		a.batteryDrv = nil
	}
	a.audit.Close()
	a.audit = nil
	var firstErr error
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			firstErr = err
		}
		a.closeStore = nil
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.logFile = nil
	}
	return firstErr
}
