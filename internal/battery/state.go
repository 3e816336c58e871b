// v0
// internal/battery/state.go
package battery

// State is the derived battery view served to callers. Charging and
// discharging are computed from net flow with a deadband so inverter
// idle draw does not flap the indicators.
type State struct {
	SoC         float64 `json:"soc"`
	WattsIn     float64 `json:"watts_in"`
	WattsOut    float64 `json:"watts_out"`
	NetFlow     float64 `json:"net_flow"`
	Charging    bool    `json:"charging"`
	Discharging bool    `json:"discharging"`
	Mode        Mode    `json:"automation_mode"`
}

// DeriveState classifies flow direction. A net flow inside the deadband
// (default 10W) is idle/pass-through.
func DeriveState(soc, wattsIn, wattsOut, deadband float64, mode Mode) State {
	if deadband <= 0 {
		deadband = 10
	}
	net := wattsIn - wattsOut
	return State{
		SoC:         soc,
		WattsIn:     wattsIn,
		WattsOut:    wattsOut,
		NetFlow:     net,
		Charging:    net > deadband,
		Discharging: net < -deadband,
		Mode:        mode,
	}
}
