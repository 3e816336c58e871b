// v1
// internal/tariff/tariff.go
package tariff

import "time"

// Period is a time-of-use rate period under the ConEd SC1 Rate III tariff.
type Period string

const (
	OffPeak   Period = "off_peak"
	Peak      Period = "peak"
	SuperPeak Period = "super_peak"
)

// Rates holds the $/kWh supply rates per season and period.
type Rates struct {
	SummerPeak      float64
	SummerSuperPeak float64
	SummerOffPeak   float64
	WinterPeak      float64
	WinterOffPeak   float64
}

// DefaultRates are the 2024 ConEd SC1 Rate III supply rates.
func DefaultRates() Rates {
	return Rates{
		SummerPeak:      0.3523,
		SummerSuperPeak: 0.3523,
		SummerOffPeak:   0.0249,
		WinterPeak:      0.1305,
		WinterOffPeak:   0.0249,
	}
}

// Engine maps local wall-clock instants to tariff periods and rates.
// All methods are pure; the engine carries only the tariff table and the
// local time zone every classification is evaluated in.
type Engine struct {
	loc   *time.Location
	rates Rates
}

func New(loc *time.Location, rates Rates) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{loc: loc, rates: rates}
}

func (e *Engine) Location() *time.Location { return e.loc }

// Period classifies t. Bounds are lower-inclusive, upper-exclusive, so
// exactly 08:00:00 is Peak and exactly midnight is OffPeak.
//
//	OffPeak:   [00:00, 08:00)
//	Peak:      [08:00, 24:00)
//	SuperPeak: summer (Jun-Sep) weekdays [14:00, 18:00), carved out of Peak
func (e *Engine) Period(t time.Time) Period {
	lt := t.In(e.loc)
	h := lt.Hour()
	if isSummer(lt) && isWeekday(lt) && h >= 14 && h < 18 {
		return SuperPeak
	}
	if h < 8 {
		return OffPeak
	}
	return Peak
}

// PeriodAndRate returns the period active at t and its $/kWh rate.
func (e *Engine) PeriodAndRate(t time.Time) (Period, float64) {
	lt := t.In(e.loc)
	p := e.Period(lt)
	return p, e.rate(p, isSummer(lt))
}

// PeakRate returns the rate a kWh consumed at t would cost if it were
// billed at the peak rate for that instant's season. Used for the
// would-have-cost comparison baseline.
func (e *Engine) PeakRate(t time.Time) float64 {
	if isSummer(t.In(e.loc)) {
		return e.rates.SummerPeak
	}
	return e.rates.WinterPeak
}

func (e *Engine) rate(p Period, summer bool) float64 {
	switch p {
	case OffPeak:
		if summer {
			return e.rates.SummerOffPeak
		}
		return e.rates.WinterOffPeak
	case SuperPeak:
		return e.rates.SummerSuperPeak
	default:
		if summer {
			return e.rates.SummerPeak
		}
		return e.rates.WinterPeak
	}
}

// Summer season is June through September.
func isSummer(t time.Time) bool {
	m := t.Month()
	return m >= time.June && m <= time.September
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
