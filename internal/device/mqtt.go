// v2
// internal/device/mqtt.go
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig wires one device's telemetry and command topics.
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	Device         string // channel prefix, e.g. "heater" or "battery"
	TelemetryTopic string // device publishes full state maps here
	CommandTopic   string // loop publishes single-channel writes here
	// MaxAge bounds how old a cached telemetry payload may be before
	// Read reports the device unreachable.
	MaxAge time.Duration
	// WriteTimeout bounds the publish acknowledgement wait.
	WriteTimeout time.Duration
}

// command is the wire format for a single-channel write.
type command struct {
	Key      string `json:"key"`
	Value    any    `json:"value"`
	IssuedAt int64  `json:"issuedAt"`
}

// MQTTDriver adapts an MQTT-bridged device to the Driver contract. The
// vendor bridge (Tuya gateway, EcoFlow relay) publishes its full state as
// a JSON object on the telemetry topic; the driver caches the latest
// payload and serves it to Read without blocking on the broker.
type MQTTDriver struct {
	cfg    MQTTConfig
	lg     *slog.Logger
	client mqtt.Client

	mu         sync.RWMutex
	latest     Snapshot
	receivedAt time.Time
}

func NewMQTTDriver(cfg MQTTConfig, lg *slog.Logger) (*MQTTDriver, error) {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	d := &MQTTDriver{cfg: cfg, lg: lg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		lg.Info("mqtt connected, subscribing", "device", cfg.Device, "topic", cfg.TelemetryTopic)
		if token := c.Subscribe(cfg.TelemetryTopic, 0, d.onTelemetry); token.Wait() && token.Error() != nil {
			lg.Error("subscribe failed", "topic", cfg.TelemetryTopic, "error", token.Error())
		}
	})

	d.client = mqtt.NewClient(opts)
	if token := d.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, &Error{Device: cfg.Device, Op: "connect", Err: token.Error()}
	}
	return d, nil
}

func (d *MQTTDriver) onTelemetry(_ mqtt.Client, msg mqtt.Message) {
	var snap Snapshot
	if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
		d.lg.Error("bad telemetry payload", "device", d.cfg.Device, "error", err)
		return
	}
	d.mu.Lock()
	d.latest = snap
	d.receivedAt = time.Now()
	d.mu.Unlock()
}

// Read returns the latest cached snapshot. An empty or expired cache is
// reported as a driver error so the loop keeps the previous shadow state
// instead of observing blanks.
func (d *MQTTDriver) Read(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Device: d.cfg.Device, Op: "read", Err: err}
	}
	d.mu.RLock()
	snap, at := d.latest, d.receivedAt
	d.mu.RUnlock()
	if snap == nil {
		return nil, &Error{Device: d.cfg.Device, Op: "read", Err: fmt.Errorf("no telemetry received yet")}
	}
	if age := time.Since(at); age > d.cfg.MaxAge {
		return nil, &Error{Device: d.cfg.Device, Op: "read", Err: fmt.Errorf("telemetry %s old, max %s", age.Round(time.Second), d.cfg.MaxAge)}
	}
	out := make(Snapshot, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out, nil
}

// Write publishes a single-channel command and waits for the broker ack.
func (d *MQTTDriver) Write(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(command{Key: key, Value: value, IssuedAt: time.Now().UnixMilli()})
	if err != nil {
		return &Error{Device: d.cfg.Device, Op: "write", Err: err}
	}
	token := d.client.Publish(d.cfg.CommandTopic, 0, false, payload)
	if !token.WaitTimeout(d.cfg.WriteTimeout) {
		return &Error{Device: d.cfg.Device, Op: "write", Err: fmt.Errorf("publish timeout after %s", d.cfg.WriteTimeout)}
	}
	if err := token.Error(); err != nil {
		return &Error{Device: d.cfg.Device, Op: "write", Err: err}
	}
	return nil
}

func (d *MQTTDriver) Close() {
	d.client.Disconnect(250)
}
