// v1
// internal/battery/controller.go
package battery

import (
	"github.com/skortchmark9/apt-heat/internal/tariff"
)

// Mode selects who owns the AC charge setpoint.
type Mode string

const (
	// ModeTOU lets the controller schedule charging around the tariff.
	ModeTOU Mode = "tou"
	// ModeManual hands the channel back to the user untouched.
	ModeManual Mode = "manual"
)

// Config bounds the charge decision. Defaults match the EcoFlow Delta Pro
// setup the automation was built around.
type Config struct {
	// FullChargeWatts is the AC input used whenever charging is wanted.
	FullChargeWatts int
	// LowSoCFloor is the emergency threshold: below it the battery is
	// charged regardless of tariff period, safety over cost.
	LowSoCFloor float64
}

func DefaultConfig() Config {
	return Config{FullChargeWatts: 1500, LowSoCFloor: 35}
}

// Controller computes the desired AC charge power. It is pure and holds
// no device state; call it once per reconciliation tick and let the
// channel shadow suppress repeat commands at period boundaries.
type Controller struct {
	cfg Config
}

func New(cfg Config) *Controller {
	if cfg.FullChargeWatts <= 0 {
		cfg.FullChargeWatts = DefaultConfig().FullChargeWatts
	}
	if cfg.LowSoCFloor <= 0 {
		cfg.LowSoCFloor = DefaultConfig().LowSoCFloor
	}
	return &Controller{cfg: cfg}
}

// Decide maps (soc, period, mode, manual override) to desired AC watts.
// Rules in order, first match wins:
//
//  1. Manual mode: the override passes through, automation stays out.
//  2. SoC below the emergency floor: full charge in any period.
//  3. Off-peak: full charge until the battery is full.
//  4. Peak and super-peak: no grid charging.
func (c *Controller) Decide(soc float64, period tariff.Period, mode Mode, manualWatts int) int {
	if mode == ModeManual {
		return manualWatts
	}
	if soc < c.cfg.LowSoCFloor {
		return c.cfg.FullChargeWatts
	}
	if period == tariff.OffPeak {
		if soc >= 100 {
			return 0
		}
		return c.cfg.FullChargeWatts
	}
	return 0
}
