// v3
// internal/api/sleep.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/skortchmark9/apt-heat/internal/sleep"
)

// defaultCurve is the stock overnight profile: ease down five degrees
// through the night and recover to the base setpoint by wake time.
var defaultCurve = []sleep.Point{
	{Progress: 0, Temp: 0},
	{Progress: 0.25, Temp: -5},
	{Progress: 0.75, Temp: -5},
	{Progress: 1, Temp: 0},
}

const fallbackBaseTemp = 70.0

type sleepRequest struct {
	// WakeTime accepts "7:00 AM", 24h "07:00", or RFC 3339.
	WakeTime string `json:"wake_time"`
	// Curve points carry absolute temperatures; they are converted to
	// offsets from the base setpoint before the session stores them.
	Curve []sleep.Point `json:"curve,omitempty"`
}

func (s *Server) startSleep(w http.ResponseWriter, r *http.Request) {
	var req sleepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.WakeTime) == "" {
		s.writeError(w, http.StatusBadRequest, "wake_time is required")
		return
	}

	now := s.clock()
	wake, err := parseWakeTime(req.WakeTime, now, s.tariffs.Location())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	base := s.baseSetpoint()
	curve := defaultCurve
	if len(req.Curve) > 0 {
		curve = make([]sleep.Point, len(req.Curve))
		for i, p := range req.Curve {
			curve[i] = sleep.Point{Progress: p.Progress, Temp: p.Temp - base}
		}
	}

	if err := s.session.Start(now, wake, curve, base); err != nil {
		if errors.Is(err, sleep.ErrInvalidCurve) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.lg.Info("sleep session started", "wake", wake, "base", base)
	s.writeJSON(w, http.StatusOK, s.session.Status(now))
}

func (s *Server) getSleep(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Status(s.clock()))
}

// cancelSleep ends the session and puts the base setpoint back as the
// heater target. The curve has been steering the setpoint since Start,
// so without this the last curve value would stick until someone
// noticed a cold apartment.
func (s *Server) cancelSleep(w http.ResponseWriter, _ *http.Request) {
	if base, ok := s.session.Cancel(); ok {
		if err := s.shadow.SetTarget("heater_target_temp", math.Round(base)); err != nil {
			s.lg.Warn("base setpoint restore failed", "error", err)
		}
		s.lg.Info("sleep session cancelled", "restored_base", base)
	}
	s.writeJSON(w, http.StatusOK, s.session.Status(s.clock()))
}

// baseSetpoint is the heater setpoint the sleep curve is anchored to:
// the pending target if one exists, else the last reported setpoint.
func (s *Server) baseSetpoint() float64 {
	ch, ok := s.shadow.Get("heater_target_temp")
	if !ok {
		return fallbackBaseTemp
	}
	if v, ok := ch.Target.(float64); ok {
		return v
	}
	if v, ok := ch.Current.(float64); ok {
		return v
	}
	return fallbackBaseTemp
}

// parseWakeTime resolves a clock-only wake time to the next occurrence
// in the tariff's local zone, so "7:00 AM" entered at 11 PM means
// tomorrow morning.
func parseWakeTime(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	var parsed time.Time
	var err error
	for _, layout := range []string{"3:04 PM", "3:04PM", "15:04"} {
		parsed, err = time.Parse(layout, raw)
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable wake_time %q", raw)
	}

	lt := now.In(loc)
	wake := time.Date(lt.Year(), lt.Month(), lt.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc)
	if !wake.After(now) {
		wake = wake.AddDate(0, 0, 1)
	}
	return wake, nil
}
