// v3
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures all runtime settings for the apartment controller.
// Values can be provided by environment variables, a properties file,
// or fall back to defaults so the process can boot with minimal setup.
type Config struct {
	// ListenAddress defines the TCP address used by the HTTP server.
	ListenAddress string
	// LogFilePath is the absolute or relative path to the log file.
	LogFilePath string
	// HTTPReadTimeout bounds the time to read incoming requests.
	HTTPReadTimeout time.Duration
	// HTTPWriteTimeout bounds the time to write responses.
	HTTPWriteTimeout time.Duration
	// ShutdownTimeout limits graceful shutdown attempts.
	ShutdownTimeout time.Duration
	// PropertiesPath records the path used to load property values.
	PropertiesPath string

	// Timezone is the IANA zone the tariff schedule is evaluated in.
	// Tariff periods are defined in the utility's local clock, never UTC.
	Timezone string

	// HeaterPollInterval and BatteryPollInterval pace the two loops.
	HeaterPollInterval  time.Duration
	BatteryPollInterval time.Duration
	// StaleWindow is the consecutive-identical-readings threshold and
	// StaleAge the minimum quiet time before telemetry counts as stale.
	StaleWindow int
	StaleAge    time.Duration
	// FailureThreshold marks a device degraded after this many
	// consecutive read failures.
	FailureThreshold int

	// BatteryFullChargeWatts is the AC input used whenever the battery
	// automation wants charging; BatteryLowSoCFloor is the emergency
	// charge threshold.
	BatteryFullChargeWatts int
	BatteryLowSoCFloor     float64

	// MQTTBroker is the broker URL for device telemetry and commands.
	MQTTBroker string
	// MQTTClientID identifies this process on the broker.
	MQTTClientID string
	// TelemetryMaxAge bounds how old a cached MQTT reading may be
	// before reads fail instead of serving it.
	TelemetryMaxAge time.Duration

	// PostgresDSN selects the readings store. Empty falls back to an
	// append-only JSONL file at ReadingsPath.
	PostgresDSN  string
	ReadingsPath string

	// KafkaBrokers lists the bootstrap brokers for the audit stream.
	// Empty disables audit publishing entirely.
	KafkaBrokers []string
	// AuditTopic carries reading and command events.
	AuditTopic string
}

const (
	defaultListenAddress = ":8090"
	defaultLogFile       = "logs/aptheat.log"
	defaultReadTimeout   = 5 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	defaultShutdown      = 5 * time.Second
	defaultPropsPath     = "aptheat.properties"
	defaultTimezone      = "America/New_York"
	defaultHeaterPoll    = 5 * time.Second
	defaultBatteryPoll   = 30 * time.Second
	defaultStaleWindow   = 10
	defaultStaleAge      = 5 * time.Minute
	defaultFailThreshold = 3
	defaultFullCharge    = 1500
	defaultLowSoCFloor   = 35
	defaultMQTTBroker    = "tcp://localhost:1883"
	defaultMQTTClientID  = "aptheat"
	defaultTelemetryAge  = 2 * time.Minute
	defaultReadingsPath  = "data/readings.jsonl"
	defaultAuditTopic    = "aptheat.audit.events"
)

// Load resolves configuration by layering defaults, an optional
// properties file, and finally environment variables. The properties
// file location can be overridden with APTHEAT_PROPERTIES_PATH.
func Load() (Config, error) {
	cfg := Config{
		ListenAddress:          defaultListenAddress,
		LogFilePath:            filepath.Clean(defaultLogFile),
		HTTPReadTimeout:        defaultReadTimeout,
		HTTPWriteTimeout:       defaultWriteTimeout,
		ShutdownTimeout:        defaultShutdown,
		Timezone:               defaultTimezone,
		HeaterPollInterval:     defaultHeaterPoll,
		BatteryPollInterval:    defaultBatteryPoll,
		StaleWindow:            defaultStaleWindow,
		StaleAge:               defaultStaleAge,
		FailureThreshold:       defaultFailThreshold,
		BatteryFullChargeWatts: defaultFullCharge,
		BatteryLowSoCFloor:     defaultLowSoCFloor,
		MQTTBroker:             defaultMQTTBroker,
		MQTTClientID:           defaultMQTTClientID,
		TelemetryMaxAge:        defaultTelemetryAge,
		ReadingsPath:           filepath.Clean(defaultReadingsPath),
		AuditTopic:             defaultAuditTopic,
	}

	propsPath := strings.TrimSpace(os.Getenv("APTHEAT_PROPERTIES_PATH"))
	if propsPath == "" {
		propsPath = defaultPropsPath
	}
	cfg.PropertiesPath = propsPath

	if err := applyProperties(&cfg, propsPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyProperties(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		// Close errors are ignored because configuration loading has
		// already completed and there is no logger available at this
		// stage of initialization.
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := setProperty(cfg, key, value); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

func setProperty(cfg *Config, key, value string) error {
	switch key {
	case "listen_address":
		if value == "" {
			return errors.New("listen_address cannot be empty")
		}
		cfg.ListenAddress = value
	case "log_path":
		if value == "" {
			return errors.New("log_path cannot be empty")
		}
		cfg.LogFilePath = filepath.Clean(value)
	case "http_read_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.HTTPReadTimeout = d
	case "http_write_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.HTTPWriteTimeout = d
	case "shutdown_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.ShutdownTimeout = d
	case "timezone":
		if value == "" {
			return errors.New("timezone cannot be empty")
		}
		cfg.Timezone = value
	case "heater_poll_interval_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.HeaterPollInterval = d
	case "battery_poll_interval_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.BatteryPollInterval = d
	case "stale_window":
		n, err := parsePositiveInt(value)
		if err != nil {
			return err
		}
		cfg.StaleWindow = n
	case "stale_age_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.StaleAge = d
	case "failure_threshold":
		n, err := parsePositiveInt(value)
		if err != nil {
			return err
		}
		cfg.FailureThreshold = n
	case "battery_full_charge_watts":
		n, err := parsePositiveInt(value)
		if err != nil {
			return err
		}
		cfg.BatteryFullChargeWatts = n
	case "battery_low_soc_floor":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid battery_low_soc_floor: %w", err)
		}
		if f <= 0 || f >= 100 {
			return errors.New("battery_low_soc_floor must be in (0, 100)")
		}
		cfg.BatteryLowSoCFloor = f
	case "mqtt_broker":
		if value == "" {
			return errors.New("mqtt_broker cannot be empty")
		}
		cfg.MQTTBroker = value
	case "mqtt_client_id":
		if value == "" {
			return errors.New("mqtt_client_id cannot be empty")
		}
		cfg.MQTTClientID = value
	case "telemetry_max_age_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.TelemetryMaxAge = d
	case "postgres_dsn":
		cfg.PostgresDSN = value
	case "readings_path":
		if value == "" {
			return errors.New("readings_path cannot be empty")
		}
		cfg.ReadingsPath = filepath.Clean(value)
	case "kafka_brokers":
		cfg.KafkaBrokers = splitAndTrim(value)
	case "audit_topic":
		if value == "" {
			return errors.New("audit_topic cannot be empty")
		}
		cfg.AuditTopic = value
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := lookupEnvTrimmed("APTHEAT_LISTEN_ADDRESS"); ok {
		if v == "" {
			return errors.New("APTHEAT_LISTEN_ADDRESS cannot be empty")
		}
		cfg.ListenAddress = v
	}
	if v, ok := lookupEnvTrimmed("APTHEAT_LOG_PATH"); ok {
		if v == "" {
			return errors.New("APTHEAT_LOG_PATH cannot be empty")
		}
		cfg.LogFilePath = filepath.Clean(v)
	}
	if v, ok := lookupEnvTrimmed("APTHEAT_TIMEZONE"); ok {
		if v == "" {
			return errors.New("APTHEAT_TIMEZONE cannot be empty")
		}
		cfg.Timezone = v
	}
	if v, ok := lookupEnvTrimmed("APTHEAT_HEATER_POLL_INTERVAL_MS"); ok {
		d, err := parsePositiveMillis(v)
		if err != nil {
			return fmt.Errorf("APTHEAT_HEATER_POLL_INTERVAL_MS: %w", err)
		}
		cfg.HeaterPollInterval = d
	}
	if v, ok := lookupEnvTrimmed("APTHEAT_BATTERY_POLL_INTERVAL_MS"); ok {
		d, err := parsePositiveMillis(v)
		if err != nil {
			return fmt.Errorf("APTHEAT_BATTERY_POLL_INTERVAL_MS: %w", err)
		}
		cfg.BatteryPollInterval = d
	}
	if v, ok := lookupEnvTrimmed("APTHEAT_MQTT_BROKER"); ok {
		if v == "" {
			return errors.New("APTHEAT_MQTT_BROKER cannot be empty")
		}
		cfg.MQTTBroker = v
	}
	if v, ok := lookupEnvTrimmed("APTHEAT_POSTGRES_DSN"); ok {
		cfg.PostgresDSN = v
	}
	if v, ok := lookupEnvTrimmed("APTHEAT_READINGS_PATH"); ok {
		if v == "" {
			return errors.New("APTHEAT_READINGS_PATH cannot be empty")
		}
		cfg.ReadingsPath = filepath.Clean(v)
	}
	if v, ok := lookupEnvTrimmed("APTHEAT_KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitAndTrim(v)
	} else if v, ok := lookupEnvTrimmed("KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitAndTrim(v)
	}
	if v, ok := lookupEnvTrimmed("APTHEAT_AUDIT_TOPIC"); ok {
		if v == "" {
			return errors.New("APTHEAT_AUDIT_TOPIC cannot be empty")
		}
		cfg.AuditTopic = v
	}
	return nil
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parsePositiveMillis(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("value cannot be empty")
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if ms <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parsePositiveInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return n, nil
}
