// v1
// internal/device/channels.go
package device

import "github.com/skortchmark9/apt-heat/internal/shadow"

// ChannelSpec declares one channel's schema ahead of telemetry.
type ChannelSpec struct {
	Key          string
	Kind         shadow.Kind
	Controllable bool
	Allowed      []string
}

// Declare registers a spec list on a shadow store.
func Declare(s *shadow.Store, specs []ChannelSpec) {
	for _, spec := range specs {
		s.Declare(spec.Key, spec.Kind, spec.Controllable, spec.Allowed...)
	}
}

// HeaterChannels is the Lasko AR122 schema, taken from its confirmed DPS map.
// Current temp, active heat level, energy and fault channels are
// read-only on the device.
func HeaterChannels() []ChannelSpec {
	return []ChannelSpec{
		{Key: "heater_power", Kind: shadow.Bool, Controllable: true},
		{Key: "heater_current_temp", Kind: shadow.Number},
		{Key: "heater_target_temp", Kind: shadow.Number, Controllable: true},
		{Key: "heater_heat_mode", Kind: shadow.Enum, Controllable: true, Allowed: []string{"Low", "Medium", "High"}},
		{Key: "heater_active_heat_level", Kind: shadow.Enum, Allowed: []string{"Stop", "Low", "Medium", "High"}},
		{Key: "heater_oscillation", Kind: shadow.Bool, Controllable: true},
		{Key: "heater_display", Kind: shadow.Bool, Controllable: true},
		{Key: "heater_energy_kwh", Kind: shadow.Number},
		{Key: "heater_fault_code", Kind: shadow.Number},
	}
}

// BatteryChannels is the EcoFlow Delta Pro schema. Only the AC charge
// power is controllable over the developer API.
func BatteryChannels() []ChannelSpec {
	return []ChannelSpec{
		{Key: "battery_soc", Kind: shadow.Number},
		{Key: "battery_watts_in", Kind: shadow.Number},
		{Key: "battery_watts_out", Kind: shadow.Number},
		{Key: "battery_ac_charge_watts", Kind: shadow.Number, Controllable: true},
	}
}

// WattsByHeatLevel approximates heater draw from the reported active
// heat level: Low is 750W with low fan, Medium and High both run the
// 1500W element.
var WattsByHeatLevel = map[string]float64{
	"Stop":   0,
	"Low":    750,
	"Medium": 1500,
	"High":   1500,
}
