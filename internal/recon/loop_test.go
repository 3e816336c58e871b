// v3
// internal/recon/loop_test.go
package recon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skortchmark9/apt-heat/internal/device"
	"github.com/skortchmark9/apt-heat/internal/shadow"
)

type write struct {
	key   string
	value any
}

// fakeDriver behaves like a real device: writes land in its next
// telemetry snapshot.
type fakeDriver struct {
	mu      sync.Mutex
	snap    device.Snapshot
	writes  []write
	readErr error
}

func (f *fakeDriver) Read(ctx context.Context) (device.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make(device.Snapshot, len(f.snap))
	for k, v := range f.snap {
		out[k] = v
	}
	return out, nil
}

func (f *fakeDriver) Write(ctx context.Context, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, write{key: key, value: value})
	f.snap[key] = value
	return nil
}

func (f *fakeDriver) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHeaterLoop(t *testing.T, drv *fakeDriver, clock *fakeClock) (*Loop, *shadow.Store) {
	t.Helper()
	sh := shadow.NewStore()
	sh.Declare("heater_power", shadow.Bool, true)
	sh.Declare("heater_current_temp", shadow.Number, false)
	sh.Declare("heater_target_temp", shadow.Number, true)
	opts := Options{Device: "heater", Prefix: "heater_", Interval: time.Second}
	return NewLoop(opts, drv, sh, nil, clock.Now, discard(), nil, nil), sh
}

func TestTickObservesTelemetry(t *testing.T) {
	drv := &fakeDriver{snap: device.Snapshot{"heater_power": true, "heater_current_temp": 68.5}}
	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	loop, sh := newHeaterLoop(t, drv, clock)

	loop.Tick(context.Background())

	if got := sh.Value("heater_current_temp"); got != 68.5 {
		t.Fatalf("heater_current_temp = %v, want 68.5", got)
	}
	if got := sh.Value("heater_power"); got != true {
		t.Fatalf("heater_power = %v, want true", got)
	}
	if drv.writeCount() != 0 {
		t.Fatalf("no targets set, but %d writes issued", drv.writeCount())
	}
}

func TestDispatchConvergesWithoutRepeats(t *testing.T) {
	drv := &fakeDriver{snap: device.Snapshot{"heater_power": false, "heater_current_temp": 66.0}}
	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	loop, sh := newHeaterLoop(t, drv, clock)

	if err := sh.SetTarget("heater_power", true); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}

	loop.Tick(context.Background())
	if drv.writeCount() != 1 {
		t.Fatalf("first tick issued %d writes, want 1", drv.writeCount())
	}
	if got := sh.Value("heater_power"); got != true {
		t.Fatalf("after dispatch heater_power = %v, want true", got)
	}

	// Telemetry now reflects the write; further ticks must stay quiet.
	clock.Advance(5 * time.Second)
	loop.Tick(context.Background())
	clock.Advance(5 * time.Second)
	loop.Tick(context.Background())
	if drv.writeCount() != 1 {
		t.Fatalf("converged channel re-dispatched, %d writes total", drv.writeCount())
	}
}

func TestDispatchOnlyOwnPrefix(t *testing.T) {
	drv := &fakeDriver{snap: device.Snapshot{"heater_power": false}}
	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	loop, sh := newHeaterLoop(t, drv, clock)
	sh.Declare("battery_ac_charge_watts", shadow.Number, true)

	if err := sh.SetTarget("battery_ac_charge_watts", 1500); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}

	loop.Tick(context.Background())
	if drv.writeCount() != 0 {
		t.Fatalf("heater loop dispatched a battery channel")
	}
}

func TestReadFailureKeepsPriorState(t *testing.T) {
	drv := &fakeDriver{snap: device.Snapshot{"heater_current_temp": 70.0}}
	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	loop, sh := newHeaterLoop(t, drv, clock)

	loop.Tick(context.Background())
	drv.mu.Lock()
	drv.readErr = errors.New("gateway timeout")
	drv.mu.Unlock()

	clock.Advance(5 * time.Second)
	loop.Tick(context.Background())

	if got := sh.Value("heater_current_temp"); got != 70.0 {
		t.Fatalf("failed read erased reported value, got %v", got)
	}
	if loop.Health().ReadFailures != 1 {
		t.Fatalf("ReadFailures = %d, want 1", loop.Health().ReadFailures)
	}
}

func TestDegradedAfterConsecutiveFailuresAndRecovery(t *testing.T) {
	drv := &fakeDriver{snap: device.Snapshot{"heater_current_temp": 70.0}, readErr: errors.New("offline")}
	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	loop, _ := newHeaterLoop(t, drv, clock)

	for i := 0; i < 2; i++ {
		loop.Tick(context.Background())
		if loop.Health().Degraded {
			t.Fatalf("degraded after %d failures, threshold is 3", i+1)
		}
	}
	loop.Tick(context.Background())
	if !loop.Health().Degraded {
		t.Fatal("not degraded after 3 consecutive failures")
	}

	drv.mu.Lock()
	drv.readErr = nil
	drv.mu.Unlock()
	loop.Tick(context.Background())
	h := loop.Health()
	if h.Degraded || h.ReadFailures != 0 {
		t.Fatalf("one good read should recover, health = %+v", h)
	}
}

func TestStalenessNeedsWindowAndAge(t *testing.T) {
	drv := &fakeDriver{snap: device.Snapshot{"heater_current_temp": 70.0, "heater_power": true}}
	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	sh := shadow.NewStore()
	sh.Declare("heater_current_temp", shadow.Number, false)
	sh.Declare("heater_power", shadow.Bool, true)
	opts := Options{
		Device: "heater", Prefix: "heater_", Interval: time.Second,
		StaleWindow: 3, StaleAge: 2 * time.Minute,
	}
	loop := NewLoop(opts, drv, sh, nil, clock.Now, discard(), nil, nil)

	// Identical readings every minute. The count threshold is met at the
	// third read but the age threshold only after two minutes pass.
	for i := 0; i < 3; i++ {
		loop.Tick(context.Background())
		clock.Advance(time.Minute)
	}
	if loop.Health().Stale {
		t.Fatal("stale before the age threshold")
	}

	loop.Tick(context.Background())
	if !loop.Health().Stale {
		t.Fatal("not stale after window and age both exceeded")
	}
	ch, _ := sh.Get("heater_current_temp")
	if !ch.Stale {
		t.Fatal("channel not flagged stale in the shadow")
	}

	// Any change clears staleness immediately.
	drv.mu.Lock()
	drv.snap["heater_current_temp"] = 69.5
	drv.mu.Unlock()
	clock.Advance(time.Minute)
	loop.Tick(context.Background())
	if loop.Health().Stale {
		t.Fatal("change did not clear staleness")
	}
	ch, _ = sh.Get("heater_current_temp")
	if ch.Stale {
		t.Fatal("channel stale flag not cleared")
	}
}

func TestStalenessWatchesOnlyMonitoredFields(t *testing.T) {
	drv := &fakeDriver{snap: device.Snapshot{"heater_current_temp": 70.0, "heater_energy_kwh": 1.0}}
	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	sh := shadow.NewStore()
	opts := Options{
		Device: "heater", Prefix: "heater_", Interval: time.Second,
		StaleWindow: 2, StaleAge: time.Minute,
		StaleFields: []string{"heater_current_temp"},
	}
	loop := NewLoop(opts, drv, sh, nil, clock.Now, discard(), nil, nil)

	// The energy counter keeps climbing while the monitored temperature
	// is frozen; the device should still go stale.
	for i := 0; i < 4; i++ {
		loop.Tick(context.Background())
		drv.mu.Lock()
		drv.snap["heater_energy_kwh"] = 1.0 + float64(i)
		drv.mu.Unlock()
		clock.Advance(time.Minute)
	}
	if !loop.Health().Stale {
		t.Fatal("climbing unmonitored field masked staleness")
	}
}

func TestRecordCallbackSeesSnapshot(t *testing.T) {
	drv := &fakeDriver{snap: device.Snapshot{"heater_current_temp": 70.0}}
	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	var recorded device.Snapshot
	sh := shadow.NewStore()
	opts := Options{
		Device: "heater", Prefix: "heater_", Interval: time.Second,
		Record: func(ctx context.Context, at time.Time, snap device.Snapshot) {
			recorded = snap
		},
	}
	loop := NewLoop(opts, drv, sh, nil, clock.Now, discard(), nil, nil)

	loop.Tick(context.Background())
	if recorded == nil || recorded["heater_current_temp"] != 70.0 {
		t.Fatalf("record callback got %v", recorded)
	}
}
