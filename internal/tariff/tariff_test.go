// v1
// internal/tariff/tariff_test.go
package tariff

import (
	"testing"
	"time"
)

var est = time.FixedZone("EST", -5*3600)

func TestPeriodBoundaries(t *testing.T) {
	e := New(est, DefaultRates())
	// Wednesday January 15th, winter.
	day := time.Date(2025, time.January, 15, 0, 0, 0, 0, est)

	cases := []struct {
		at   time.Time
		want Period
	}{
		{day, OffPeak},
		{day.Add(7*time.Hour + 59*time.Minute + 59*time.Second), OffPeak},
		{time.Date(2025, time.January, 15, 8, 0, 0, 0, est), Peak},
		{day.Add(14 * time.Hour), Peak}, // winter: no super-peak
		{day.Add(23*time.Hour + 59*time.Minute), Peak},
		{day.Add(24 * time.Hour), OffPeak}, // midnight rolls into off-peak
	}
	for _, c := range cases {
		if got := e.Period(c.at); got != c.want {
			t.Fatalf("Period(%s) = %s, want %s", c.at, got, c.want)
		}
	}
}

func TestPeriodEveryOffPeakMinute(t *testing.T) {
	e := New(est, DefaultRates())
	start := time.Date(2025, time.March, 3, 0, 0, 0, 0, est)
	for m := 0; m < 8*60; m++ {
		at := start.Add(time.Duration(m) * time.Minute)
		if got := e.Period(at); got != OffPeak {
			t.Fatalf("Period(%s) = %s, want off_peak", at, got)
		}
	}
}

func TestSuperPeakSummerWeekdayOnly(t *testing.T) {
	e := New(est, DefaultRates())

	// Tuesday July 15th, 3PM: summer weekday inside the 2-6PM window.
	summerWeekday := time.Date(2025, time.July, 15, 15, 0, 0, 0, est)
	if got := e.Period(summerWeekday); got != SuperPeak {
		t.Fatalf("summer weekday 3PM = %s, want super_peak", got)
	}
	// Exactly 2PM is in, exactly 6PM is out.
	if got := e.Period(summerWeekday.Add(-time.Hour)); got != SuperPeak {
		t.Fatalf("2PM = %s, want super_peak", got)
	}
	if got := e.Period(summerWeekday.Add(3 * time.Hour)); got != Peak {
		t.Fatalf("6PM = %s, want peak", got)
	}
	// Saturday July 19th stays plain peak.
	if got := e.Period(time.Date(2025, time.July, 19, 15, 0, 0, 0, est)); got != Peak {
		t.Fatalf("summer saturday 3PM should be peak")
	}
	// October 15th (winter season) stays plain peak.
	if got := e.Period(time.Date(2025, time.October, 15, 15, 0, 0, 0, est)); got != Peak {
		t.Fatalf("winter weekday 3PM should be peak")
	}
}

func TestRatesBySeason(t *testing.T) {
	e := New(est, DefaultRates())

	_, summerPeak := e.PeriodAndRate(time.Date(2025, time.July, 16, 10, 0, 0, 0, est))
	if summerPeak != 0.3523 {
		t.Fatalf("summer peak rate = %v", summerPeak)
	}
	_, winterPeak := e.PeriodAndRate(time.Date(2025, time.January, 16, 10, 0, 0, 0, est))
	if winterPeak != 0.1305 {
		t.Fatalf("winter peak rate = %v", winterPeak)
	}
	_, off := e.PeriodAndRate(time.Date(2025, time.January, 16, 3, 0, 0, 0, est))
	if off != 0.0249 {
		t.Fatalf("off-peak rate = %v", off)
	}
}
