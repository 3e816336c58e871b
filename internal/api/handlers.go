// v4
// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/skortchmark9/apt-heat/internal/battery"
	"github.com/skortchmark9/apt-heat/internal/recon"
	"github.com/skortchmark9/apt-heat/internal/shadow"
	"github.com/skortchmark9/apt-heat/internal/store"
	"github.com/skortchmark9/apt-heat/internal/tariff"
)

func (s *Server) listChannels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"channels": s.shadow.All()})
}

type targetRequest struct {
	Value any `json:"value"`
}

func (s *Server) putTarget(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	if req.Value == nil {
		s.writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	if err := s.shadow.SetTarget(key, req.Value); err != nil {
		switch {
		case errors.Is(err, shadow.ErrUnknownChannel):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, shadow.ErrInvalidTarget):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.lg.Info("target accepted", "channel", key, "value", req.Value)
	ch, _ := s.shadow.Get(key)
	s.writeJSON(w, http.StatusOK, ch)
}

func (s *Server) getReadings(w http.ResponseWriter, r *http.Request) {
	now := s.clock()
	hours := queryInt(r, "hours", 24)
	if hours <= 0 || hours > 24*31 {
		s.writeError(w, http.StatusBadRequest, "hours must be in 1..744")
		return
	}
	maxPoints := queryInt(r, "max_points", 500)
	if maxPoints <= 0 {
		s.writeError(w, http.StatusBadRequest, "max_points must be positive")
		return
	}

	readings, err := s.readings.Query(r.Context(), now.Add(-time.Duration(hours)*time.Hour), now)
	if err != nil {
		s.lg.Error("readings query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "readings unavailable")
		return
	}

	total := len(readings)
	readings = downsample(readings, maxPoints)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"total":    total,
		"returned": len(readings),
		"readings": readings,
	})
}

// downsample keeps every len/max-th reading plus the newest one, enough
// for a chart without shipping a day of 5-second telemetry.
func downsample(readings []store.Reading, max int) []store.Reading {
	if len(readings) <= max {
		return readings
	}
	stride := (len(readings) + max - 1) / max
	out := make([]store.Reading, 0, max)
	for i := 0; i < len(readings); i += stride {
		out = append(out, readings[i])
	}
	if last := readings[len(readings)-1]; len(out) == 0 || !out[len(out)-1].Timestamp.Equal(last.Timestamp) {
		out = append(out, last)
	}
	return out
}

type savingsResponse struct {
	tariff.Summary
	Days       []tariff.DayResult `json:"days"`
	StreakDays int                `json:"streak_days"`
	Period     tariff.Period      `json:"current_period"`
	Rate       float64            `json:"current_rate"`
}

func (s *Server) getSavings(w http.ResponseWriter, r *http.Request) {
	now := s.clock()
	days := queryInt(r, "days", 7)
	if days <= 0 || days > 90 {
		s.writeError(w, http.StatusBadRequest, "days must be in 1..90")
		return
	}

	loc := s.tariffs.Location()
	lt := now.In(loc)
	from := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -(days - 1))

	readings, err := s.readings.Query(r.Context(), from, now)
	if err != nil {
		s.lg.Error("readings query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "readings unavailable")
		return
	}

	// Battery readings interleave with heater readings in the store;
	// only heater samples carry billable draw.
	samples := make([]tariff.Sample, 0, len(readings))
	for _, rd := range readings {
		if rd.Device != "heater" {
			continue
		}
		samples = append(samples, tariff.Sample{Time: rd.Timestamp, Watts: rd.PowerWatts})
	}
	// Cap integration gaps at twice the poll interval so an outage is
	// counted as unmetered time, not as sustained draw.
	maxGap := 2 * s.cfg.HeaterPollInterval

	dayResults := s.tariffs.DailyCosts(samples, maxGap)
	period, rate := s.tariffs.PeriodAndRate(now)
	s.writeJSON(w, http.StatusOK, savingsResponse{
		Summary:    s.tariffs.Savings(samples, maxGap),
		Days:       dayResults,
		StreakDays: tariff.Streak(dayResults),
		Period:     period,
		Rate:       rate,
	})
}

type batteryResponse struct {
	battery.State
	TargetChargeWatts any `json:"target_charge_watts"`
	ManualWatts       int `json:"manual_watts"`
}

func (s *Server) getBattery(w http.ResponseWriter, _ *http.Request) {
	soc, _ := s.shadow.Value("battery_soc").(float64)
	in, _ := s.shadow.Value("battery_watts_in").(float64)
	out, _ := s.shadow.Value("battery_watts_out").(float64)
	mode, manual := s.battery.Mode()

	var target any
	if ch, ok := s.shadow.Get("battery_ac_charge_watts"); ok {
		target = ch.Target
	}
	s.writeJSON(w, http.StatusOK, batteryResponse{
		State:             battery.DeriveState(soc, in, out, 0, mode),
		TargetChargeWatts: target,
		ManualWatts:       manual,
	})
}

func (s *Server) toggleAutomation(w http.ResponseWriter, _ *http.Request) {
	current := 0
	if v, ok := s.shadow.Value("battery_ac_charge_watts").(float64); ok {
		current = int(v)
	}
	mode := s.battery.Toggle(current)
	s.lg.Info("battery automation toggled", "mode", mode)
	s.writeJSON(w, http.StatusOK, map[string]any{"automation_mode": mode})
}

func (s *Server) toggleHeaterAutomation(w http.ResponseWriter, _ *http.Request) {
	enabled := s.heater.Toggle()
	s.lg.Info("heater automation toggled", "enabled", enabled)
	s.writeJSON(w, http.StatusOK, map[string]any{"automation_enabled": enabled})
}

type statusResponse struct {
	UptimeSeconds    float64        `json:"uptime_seconds"`
	Period           tariff.Period  `json:"tariff_period"`
	Rate             float64        `json:"tariff_rate"`
	SleepActive      bool           `json:"sleep_active"`
	HeaterAutomation bool           `json:"heater_automation"`
	BatteryMode      battery.Mode   `json:"battery_mode"`
	Devices          []recon.Health `json:"devices"`
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	now := s.clock()
	period, rate := s.tariffs.PeriodAndRate(now)
	mode, _ := s.battery.Mode()

	devices := make([]recon.Health, 0, len(s.loops))
	for _, l := range s.loops {
		devices = append(devices, l.Health())
	}
	s.writeJSON(w, http.StatusOK, statusResponse{
		UptimeSeconds:    now.Sub(s.started).Seconds(),
		Period:           period,
		Rate:             rate,
		SleepActive:      s.session.Active(),
		HeaterAutomation: s.heater.Enabled(),
		BatteryMode:      mode,
		Devices:          devices,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
