// v1
// internal/tariff/savings_test.go
package tariff

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// steadyDraw emits a sample every interval holding watts constant.
func steadyDraw(start time.Time, watts float64, interval time.Duration, n int) []Sample {
	out := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Sample{Time: start.Add(time.Duration(i) * interval), Watts: watts})
	}
	return out
}

func TestSavingsBucketsByIntervalStart(t *testing.T) {
	e := New(est, DefaultRates())
	// One hour at 1500W straddling the 8AM boundary: 30min off-peak,
	// 30min peak. Interval starting 7:59 belongs to off-peak.
	start := time.Date(2025, time.January, 15, 7, 30, 0, 0, est)
	samples := steadyDraw(start, 1500, time.Minute, 61)

	sum := e.Savings(samples, 0)
	if !almostEqual(sum.TotalKWh, 1.5) {
		t.Fatalf("total kwh = %v, want 1.5", sum.TotalKWh)
	}
	if !almostEqual(sum.KWhByPeriod[OffPeak], 0.75) {
		t.Fatalf("off-peak kwh = %v, want 0.75", sum.KWhByPeriod[OffPeak])
	}
	if !almostEqual(sum.KWhByPeriod[Peak], 0.75) {
		t.Fatalf("peak kwh = %v, want 0.75", sum.KWhByPeriod[Peak])
	}
	wantCost := 0.75*0.0249 + 0.75*0.1305
	if !almostEqual(sum.Cost, wantCost) {
		t.Fatalf("cost = %v, want %v", sum.Cost, wantCost)
	}
	wantBaseline := 1.5 * 0.1305
	if !almostEqual(sum.WouldHaveCost, wantBaseline) {
		t.Fatalf("would-have = %v, want %v", sum.WouldHaveCost, wantBaseline)
	}
	if !almostEqual(sum.Savings, wantBaseline-wantCost) {
		t.Fatalf("savings = %v", sum.Savings)
	}
}

func TestSavingsSkipsIdleAndCapsGaps(t *testing.T) {
	e := New(est, DefaultRates())
	start := time.Date(2025, time.January, 15, 2, 0, 0, 0, est)
	samples := []Sample{
		{Time: start, Watts: 0},                     // idle, contributes nothing
		{Time: start.Add(time.Minute), Watts: 1000}, // followed by a 2h gap
		{Time: start.Add(121 * time.Minute), Watts: 0},
	}
	sum := e.Savings(samples, 5*time.Minute)
	// The 2h gap is capped at 5 minutes of integration.
	want := 1000 * (5.0 / 60) / 1000
	if !almostEqual(sum.TotalKWh, want) {
		t.Fatalf("total kwh = %v, want %v", sum.TotalKWh, want)
	}
}

func TestStreak(t *testing.T) {
	day := func(d int, cost, baseline float64) DayResult {
		return DayResult{
			Day:           time.Date(2025, time.January, d, 0, 0, 0, 0, est),
			Cost:          cost,
			WouldHaveCost: baseline,
		}
	}

	t.Run("consecutive wins count", func(t *testing.T) {
		days := []DayResult{day(1, 2.40, 8.10), day(2, 3.00, 7.00), day(3, 1.10, 6.50)}
		if got := Streak(days); got != 3 {
			t.Fatalf("streak = %d, want 3", got)
		}
	})

	t.Run("losing day resets", func(t *testing.T) {
		days := []DayResult{day(1, 2.40, 8.10), day(2, 9.00, 7.00), day(3, 1.10, 6.50)}
		if got := Streak(days); got != 1 {
			t.Fatalf("streak = %d, want 1", got)
		}
	})

	t.Run("equal cost does not qualify", func(t *testing.T) {
		days := []DayResult{day(1, 5.00, 5.00)}
		if got := Streak(days); got != 0 {
			t.Fatalf("streak = %d, want 0", got)
		}
	})
}
