// v1
// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	loopTicks         *prometheus.CounterVec
	commandsIssued    *prometheus.CounterVec
	driverFailures    *prometheus.CounterVec
	channelStale      *prometheus.GaugeVec
	deviceDegraded    *prometheus.GaugeVec
	batterySoC        prometheus.Gauge
	heaterWatts       prometheus.Gauge
	tariffRate        prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		loopTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "control_loop_ticks_total",
			Help: "Total reconciliation ticks completed per device.",
		}, []string{"device"}),
		commandsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commands_issued_total",
			Help: "Total correction commands dispatched per device and channel.",
		}, []string{"device", "channel"}),
		driverFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_failures_total",
			Help: "Total device driver read/write failures per device and op.",
		}, []string{"device", "op"}),
		channelStale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "channel_stale",
			Help: "Staleness flag per device (1 when readings stopped changing).",
		}, []string{"device"}),
		deviceDegraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "device_degraded",
			Help: "Degraded health flag per device after consecutive read failures.",
		}, []string{"device"}),
		batterySoC: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "battery_soc_percent",
			Help: "Last observed battery state of charge.",
		}),
		heaterWatts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heater_power_watts",
			Help: "Estimated heater draw from the active heat level.",
		}),
		tariffRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tariff_rate_dollars_per_kwh",
			Help: "Current electricity rate for the active tariff period.",
		}),
	}

	prometheus.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.loopTicks,
		m.commandsIssued,
		m.driverFailures,
		m.channelStale,
		m.deviceDegraded,
		m.batterySoC,
		m.heaterWatts,
		m.tariffRate,
	)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) LoopTick(device string) {
	if m == nil {
		return
	}
	m.loopTicks.WithLabelValues(device).Inc()
}

func (m *Metrics) CommandIssued(device, channel string) {
	if m == nil {
		return
	}
	m.commandsIssued.WithLabelValues(device, channel).Inc()
}

func (m *Metrics) DriverFailure(device, op string) {
	if m == nil {
		return
	}
	m.driverFailures.WithLabelValues(device, op).Inc()
}

func (m *Metrics) SetStale(device string, stale bool) {
	if m == nil {
		return
	}
	v := 0.0
	if stale {
		v = 1.0
	}
	m.channelStale.WithLabelValues(device).Set(v)
}

func (m *Metrics) SetDegraded(device string, degraded bool) {
	if m == nil {
		return
	}
	v := 0.0
	if degraded {
		v = 1.0
	}
	m.deviceDegraded.WithLabelValues(device).Set(v)
}

func (m *Metrics) SetBatterySoC(soc float64) {
	if m == nil {
		return
	}
	m.batterySoC.Set(soc)
}

func (m *Metrics) SetHeaterWatts(w float64) {
	if m == nil {
		return
	}
	m.heaterWatts.Set(w)
}

func (m *Metrics) SetTariffRate(rate float64) {
	if m == nil {
		return
	}
	m.tariffRate.Set(rate)
}
