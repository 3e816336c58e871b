// v2
// internal/recon/policy.go
package recon

import (
	"math"
	"sync"
	"time"

	"github.com/skortchmark9/apt-heat/internal/battery"
	"github.com/skortchmark9/apt-heat/internal/shadow"
	"github.com/skortchmark9/apt-heat/internal/tariff"
)

// Policy computes desired targets for one device each tick. Policies
// only write targets; the loop owns reads and dispatch.
type Policy interface {
	Apply(now time.Time, sh *shadow.Store)
}

// sleepSource is the slice of the sleep session the heater policy reads.
type sleepSource interface {
	CurrentTarget(now time.Time) (float64, bool)
}

// HeaterPolicy follows the active sleep session. Outside a session, or
// with automation disabled, it leaves the setpoint alone and whatever
// the user last asked for stands.
type HeaterPolicy struct {
	mu      sync.Mutex
	enabled bool
	session sleepSource
}

func NewHeaterPolicy(session sleepSource) *HeaterPolicy {
	return &HeaterPolicy{enabled: true, session: session}
}

func (p *HeaterPolicy) Apply(now time.Time, sh *shadow.Store) {
	p.mu.Lock()
	enabled := p.enabled
	p.mu.Unlock()
	if !enabled {
		return
	}
	target, ok := p.session.CurrentTarget(now)
	if !ok {
		return
	}
	// The heater only accepts whole degrees.
	_ = sh.SetTarget("heater_target_temp", math.Round(target))
}

// Toggle flips heater automation and returns the new state. Disabling
// does not cancel the sleep session; the curve simply stops driving the
// setpoint until automation is re-enabled.
func (p *HeaterPolicy) Toggle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = !p.enabled
	return p.enabled
}

func (p *HeaterPolicy) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// BatteryPolicy schedules AC charging around the tariff. The mode and
// manual override are mutable from the HTTP layer, so access is locked.
type BatteryPolicy struct {
	mu          sync.Mutex
	ctrl        *battery.Controller
	tariffs     *tariff.Engine
	mode        battery.Mode
	manualWatts int
}

func NewBatteryPolicy(ctrl *battery.Controller, tariffs *tariff.Engine) *BatteryPolicy {
	return &BatteryPolicy{ctrl: ctrl, tariffs: tariffs, mode: battery.ModeTOU}
}

func (p *BatteryPolicy) Apply(now time.Time, sh *shadow.Store) {
	soc, ok := sh.Value("battery_soc").(float64)
	if !ok {
		// No telemetry yet. Commanding a charge level blind could fight
		// the low-SoC emergency rule, so wait for the first reading.
		return
	}
	p.mu.Lock()
	mode, manual := p.mode, p.manualWatts
	p.mu.Unlock()
	watts := p.ctrl.Decide(soc, p.tariffs.Period(now), mode, manual)
	_ = sh.SetTarget("battery_ac_charge_watts", watts)
}

// SetMode switches between TOU automation and manual passthrough.
func (p *BatteryPolicy) SetMode(mode battery.Mode, manualWatts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
	p.manualWatts = manualWatts
}

// Toggle flips automation on or off and returns the new mode. Manual
// mode keeps the last commanded watts as its override so the flip does
// not jolt the charger.
func (p *BatteryPolicy) Toggle(currentWatts int) battery.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == battery.ModeTOU {
		p.mode = battery.ModeManual
		p.manualWatts = currentWatts
	} else {
		p.mode = battery.ModeTOU
	}
	return p.mode
}

func (p *BatteryPolicy) Mode() (battery.Mode, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode, p.manualWatts
}
