// v4
// internal/recon/loop.go
package recon

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skortchmark9/apt-heat/internal/device"
	"github.com/skortchmark9/apt-heat/internal/ledger"
	"github.com/skortchmark9/apt-heat/internal/metrics"
	"github.com/skortchmark9/apt-heat/internal/shadow"
)

// Clock supplies the loop's notion of now. Production wires time.Now;
// tests drive a fake so tariff boundaries and staleness windows can be
// crossed without sleeping.
type Clock func() time.Time

// Options configures one device loop.
type Options struct {
	// Device names the loop in logs, metrics and audit events.
	Device string
	// Prefix selects this device's channels in the shared shadow store.
	Prefix string
	// Interval between ticks. Heaters poll fast, batteries slow.
	Interval time.Duration
	// StaleWindow and StaleAge bound the staleness classifier; zero
	// values take the defaults (10 reads, 5 minutes).
	StaleWindow int
	StaleAge    time.Duration
	// StaleFields narrows staleness to fields expected to drift, like
	// a temperature sensor. Empty watches the whole snapshot.
	StaleFields []string
	// FailureThreshold is how many consecutive read failures mark the
	// device degraded. Zero means 3.
	FailureThreshold int
	// Record, when set, is called with each successful snapshot. The
	// application wires persistence and gauge updates through it.
	Record func(ctx context.Context, at time.Time, snap device.Snapshot)
}

// Health is the loop's self-assessment for the status endpoint.
type Health struct {
	Device       string    `json:"device"`
	Degraded     bool      `json:"degraded"`
	ReadFailures int       `json:"read_failures"`
	Stale        bool      `json:"stale"`
	LastRead     time.Time `json:"last_read"`
}

// Loop reconciles one device against the channel shadow. Every tick:
// read telemetry, observe it into the shadow, let the policy refresh
// targets, then dispatch one write per pending channel. A failed read
// keeps the previous reported values so a flaky gateway never erases
// state the dashboard is showing.
type Loop struct {
	opts   Options
	driver device.Driver
	shadow *shadow.Store
	policy Policy
	clock  Clock
	lg     *slog.Logger
	met    *metrics.Metrics
	audit  *ledger.Publisher

	stale *staleTracker

	mu       sync.Mutex
	failures int
	degraded bool
	isStale  bool
	lastRead time.Time
}

func NewLoop(opts Options, drv device.Driver, sh *shadow.Store, policy Policy, clock Clock, lg *slog.Logger, met *metrics.Metrics, audit *ledger.Publisher) *Loop {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	return &Loop{
		opts:   opts,
		driver: drv,
		shadow: sh,
		policy: policy,
		clock:  clock,
		lg:     lg.With("device", opts.Device),
		met:    met,
		audit:  audit,
		stale:  newStaleTracker(opts.StaleWindow, opts.StaleAge, opts.StaleFields),
	}
}

// Run ticks immediately, then on every interval until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()
	l.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.lg.Info("reconciliation loop stopped")
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one read-decide-dispatch cycle.
func (l *Loop) Tick(ctx context.Context) {
	now := l.clock()

	snap, err := l.driver.Read(ctx)
	if err != nil {
		l.onReadFailure(err)
	} else {
		l.onReadSuccess(ctx, snap, now)
	}

	if l.policy != nil {
		l.policy.Apply(now, l.shadow)
	}

	l.dispatch(ctx, now)
	l.met.LoopTick(l.opts.Device)
}

func (l *Loop) onReadFailure(err error) {
	l.met.DriverFailure(l.opts.Device, "read")
	l.mu.Lock()
	l.failures++
	crossed := l.failures >= l.opts.FailureThreshold && !l.degraded
	if crossed {
		l.degraded = true
	}
	failures := l.failures
	l.mu.Unlock()

	l.lg.Warn("telemetry read failed", "error", err, "consecutive", failures)
	if crossed {
		l.lg.Error("device degraded", "consecutive_failures", failures)
		l.met.SetDegraded(l.opts.Device, true)
	}
}

func (l *Loop) onReadSuccess(ctx context.Context, snap device.Snapshot, now time.Time) {
	l.mu.Lock()
	recovered := l.degraded
	l.failures = 0
	l.degraded = false
	l.lastRead = now
	l.mu.Unlock()
	if recovered {
		l.lg.Info("device recovered")
		l.met.SetDegraded(l.opts.Device, false)
	}

	l.shadow.ObserveAll(snap, now)

	stale := l.stale.observe(snap, now)
	l.setStale(stale)

	if l.opts.Record != nil {
		l.opts.Record(ctx, now, snap)
	}
	if err := l.audit.PublishReading(ctx, l.opts.Device, snap, now); err != nil {
		l.lg.Warn("audit reading publish failed", "error", err)
	}
}

func (l *Loop) setStale(stale bool) {
	l.mu.Lock()
	changed := stale != l.isStale
	l.isStale = stale
	l.mu.Unlock()
	if !changed {
		return
	}
	l.shadow.MarkStale(l.opts.Prefix, stale)
	l.met.SetStale(l.opts.Device, stale)
	if stale {
		l.lg.Warn("telemetry stale, readings unchanged past window")
	} else {
		l.lg.Info("telemetry fresh again")
	}
}

// dispatch writes every pending channel under this loop's prefix. After
// a successful write the target value is observed back as the reported
// value, so a converged channel issues no further commands until the
// device reports something different.
func (l *Loop) dispatch(ctx context.Context, now time.Time) {
	for _, d := range l.shadow.Diff() {
		if !strings.HasPrefix(d.Key, l.opts.Prefix) {
			continue
		}
		if err := l.driver.Write(ctx, d.Key, d.Target); err != nil {
			l.met.DriverFailure(l.opts.Device, "write")
			l.lg.Warn("command dispatch failed", "channel", d.Key, "target", d.Target, "error", err)
			continue
		}
		l.shadow.Observe(d.Key, d.Target, now)
		l.met.CommandIssued(l.opts.Device, d.Key)
		l.lg.Info("command dispatched", "channel", d.Key, "from", d.Current, "to", d.Target)
		if err := l.audit.PublishCommand(ctx, l.opts.Device, d.Key, d.Target, now); err != nil {
			l.lg.Warn("audit command publish failed", "error", err)
		}
	}
}

// Health snapshots the loop's degradation and staleness state.
func (l *Loop) Health() Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Health{
		Device:       l.opts.Device,
		Degraded:     l.degraded,
		ReadFailures: l.failures,
		Stale:        l.isStale,
		LastRead:     l.lastRead,
	}
}
