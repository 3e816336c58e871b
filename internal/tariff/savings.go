// v2
// internal/tariff/savings.go
package tariff

import (
	"sort"
	"time"
)

// Sample is one power observation used for cost integration. Watts is the
// draw at Time; energy is attributed to the interval starting at Time.
type Sample struct {
	Time  time.Time
	Watts float64
}

// Summary is the cost/savings breakdown over a series of samples.
// WouldHaveCost re-prices every interval at the peak rate for the same
// instant, which is what the heater would have cost with no battery and no
// load shifting.
type Summary struct {
	TotalKWh      float64            `json:"total_kwh"`
	KWhByPeriod   map[Period]float64 `json:"kwh_by_period"`
	Cost          float64            `json:"cost"`
	WouldHaveCost float64            `json:"would_have_cost"`
	Savings       float64            `json:"savings"`
}

// DayResult is the realized vs. baseline cost for one local calendar day.
type DayResult struct {
	Day           time.Time `json:"day"`
	Cost          float64   `json:"cost"`
	WouldHaveCost float64   `json:"would_have_cost"`
}

// Qualifies reports whether the day counts toward the savings streak:
// realized cost strictly below what the same energy would have cost at
// peak rates.
func (d DayResult) Qualifies() bool { return d.Cost < d.WouldHaveCost }

// Savings integrates energy between consecutive samples. Each interval is
// bucketed by the period active at its start. maxInterval caps the gap
// between samples so a stretch with the driver down does not fabricate
// energy; pass 0 to disable the cap.
func (e *Engine) Savings(samples []Sample, maxInterval time.Duration) Summary {
	sum := Summary{KWhByPeriod: map[Period]float64{}}
	for i := 0; i+1 < len(samples); i++ {
		s := samples[i]
		if s.Watts <= 0 {
			continue
		}
		dt := samples[i+1].Time.Sub(s.Time)
		if dt <= 0 {
			continue
		}
		if maxInterval > 0 && dt > maxInterval {
			dt = maxInterval
		}
		kwh := s.Watts * dt.Hours() / 1000
		period, rate := e.PeriodAndRate(s.Time)
		sum.TotalKWh += kwh
		sum.KWhByPeriod[period] += kwh
		sum.Cost += kwh * rate
		sum.WouldHaveCost += kwh * e.PeakRate(s.Time)
	}
	sum.Savings = sum.WouldHaveCost - sum.Cost
	return sum
}

// DailyCosts buckets the same integration by local calendar day of each
// interval's start. Results are ordered oldest first.
func (e *Engine) DailyCosts(samples []Sample, maxInterval time.Duration) []DayResult {
	byDay := map[time.Time]*DayResult{}
	for i := 0; i+1 < len(samples); i++ {
		s := samples[i]
		if s.Watts <= 0 {
			continue
		}
		dt := samples[i+1].Time.Sub(s.Time)
		if dt <= 0 {
			continue
		}
		if maxInterval > 0 && dt > maxInterval {
			dt = maxInterval
		}
		kwh := s.Watts * dt.Hours() / 1000
		_, rate := e.PeriodAndRate(s.Time)
		lt := s.Time.In(e.loc)
		day := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, e.loc)
		d, ok := byDay[day]
		if !ok {
			d = &DayResult{Day: day}
			byDay[day] = d
		}
		d.Cost += kwh * rate
		d.WouldHaveCost += kwh * e.PeakRate(s.Time)
	}
	out := make([]DayResult, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

// Streak counts consecutive qualifying days ending at the most recent day.
// A day at or above its baseline resets the count to zero.
func Streak(days []DayResult) int {
	n := 0
	for i := len(days) - 1; i >= 0; i-- {
		if !days[i].Qualifies() {
			break
		}
		n++
	}
	return n
}
