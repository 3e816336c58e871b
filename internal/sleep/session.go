// v2
// internal/sleep/session.go
package sleep

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrInvalidCurve rejects curves that do not span progress 0..1 with
// strictly increasing points, and wake times not strictly in the future.
var ErrInvalidCurve = errors.New("invalid sleep curve")

// Point is one curve vertex. Temp is a delta in degrees F relative to the
// session's base setpoint; the delta form is canonical so a later base
// change never requires rewriting the stored curve. Conversion to and
// from absolute temperatures happens only at the API boundary.
type Point struct {
	Progress float64 `json:"progress"`
	Temp     float64 `json:"temp"`
}

// Status is the externally visible session state. CurrentTarget is an
// absolute temperature.
type Status struct {
	Active        bool      `json:"active"`
	StartTime     time.Time `json:"start_time"`
	WakeTime      time.Time `json:"wake_time"`
	Progress      float64   `json:"progress"`
	CurrentTarget float64   `json:"current_target,omitempty"`
	Curve         []Point   `json:"curve,omitempty"`
}

// Session tracks one sleep-mode run: Inactive -> Active -> Inactive.
// Starting while active replaces the prior session, last writer wins.
type Session struct {
	mu     sync.Mutex
	active bool
	start  time.Time
	wake   time.Time
	base   float64
	curve  []Point
}

func NewSession() *Session { return &Session{} }

// Start activates the session. The curve must begin at progress 0, end at
// progress 1, and be strictly increasing; wake must be strictly after now.
// base is the heater setpoint captured at the moment sleep begins.
func (s *Session) Start(now, wake time.Time, curve []Point, base float64) error {
	if err := validate(curve); err != nil {
		return err
	}
	if !wake.After(now) {
		return fmt.Errorf("%w: wake time %s not after start %s", ErrInvalidCurve, wake, now)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.start = now
	s.wake = wake
	s.base = base
	s.curve = append([]Point(nil), curve...)
	return nil
}

// Cancel deactivates the session and clears the curve. It reports the
// base setpoint captured at Start so the caller can restore it; ok is
// false when no session was active. Without the restore a mid-night
// cancel would strand the heater at the last curve-lowered target.
func (s *Session) Cancel() (base float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return 0, false
	}
	base = s.base
	s.deactivate()
	return base, true
}

func (s *Session) deactivate() {
	s.active = false
	s.curve = nil
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// CurrentTarget returns the absolute setpoint for now. The second return
// is false when no session is active. Reaching progress 1 ends the
// session after reporting the final target.
func (s *Session) CurrentTarget(now time.Time) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return 0, false
	}
	p := s.progressLocked(now)
	target := s.base + evalCurve(s.curve, p)
	if p >= 1 {
		s.deactivate()
	}
	return target, true
}

// Status reports the session for the API layer, with the curve converted
// back to absolute temperatures.
func (s *Session) Status(now time.Time) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return Status{}
	}
	p := s.progressLocked(now)
	abs := make([]Point, len(s.curve))
	for i, pt := range s.curve {
		abs[i] = Point{Progress: pt.Progress, Temp: s.base + pt.Temp}
	}
	return Status{
		Active:        true,
		StartTime:     s.start,
		WakeTime:      s.wake,
		Progress:      p,
		CurrentTarget: s.base + evalCurve(s.curve, p),
		Curve:         abs,
	}
}

func (s *Session) progressLocked(now time.Time) float64 {
	total := s.wake.Sub(s.start).Seconds()
	elapsed := now.Sub(s.start).Seconds()
	return clamp(elapsed/total, 0, 1)
}

func validate(curve []Point) error {
	if len(curve) < 2 {
		return fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidCurve, len(curve))
	}
	if curve[0].Progress != 0 {
		return fmt.Errorf("%w: first point at progress %v, want 0", ErrInvalidCurve, curve[0].Progress)
	}
	if curve[len(curve)-1].Progress != 1 {
		return fmt.Errorf("%w: last point at progress %v, want 1", ErrInvalidCurve, curve[len(curve)-1].Progress)
	}
	for i := 1; i < len(curve); i++ {
		if curve[i].Progress <= curve[i-1].Progress {
			return fmt.Errorf("%w: progress not strictly increasing at index %d", ErrInvalidCurve, i)
		}
	}
	return nil
}

// evalCurve interpolates the delta at progress p with quadratic Bezier
// blending through segment midpoints. The curve passes through every
// vertex's adjacent midpoints with the vertex as control point, which
// keeps the setpoint continuous with no slope jumps at segment
// boundaries. Linear segments would step the slope at each vertex and
// cycle the heater relay around the corner.
func evalCurve(pts []Point, p float64) float64 {
	n := len(pts)
	if p <= pts[0].Progress {
		return pts[0].Temp
	}
	if p >= pts[n-1].Progress {
		return pts[n-1].Temp
	}
	mids := make([]Point, n-1)
	for i := 0; i < n-1; i++ {
		mids[i] = Point{
			Progress: (pts[i].Progress + pts[i+1].Progress) / 2,
			Temp:     (pts[i].Temp + pts[i+1].Temp) / 2,
		}
	}
	if p <= mids[0].Progress {
		return lerp(pts[0], mids[0], p)
	}
	if p >= mids[n-2].Progress {
		return lerp(mids[n-2], pts[n-1], p)
	}
	for i := 1; i < n-1; i++ {
		if p >= mids[i-1].Progress && p <= mids[i].Progress {
			return bezier(mids[i-1], pts[i], mids[i], p)
		}
	}
	return pts[n-1].Temp
}

func lerp(a, b Point, p float64) float64 {
	if b.Progress == a.Progress {
		return a.Temp
	}
	u := (p - a.Progress) / (b.Progress - a.Progress)
	return a.Temp + (b.Temp-a.Temp)*u
}

// bezier evaluates the quadratic Bezier through endpoints a, c with
// control b, at curve-space progress p. The progress axis is itself
// Bezier-parameterized, so solve the quadratic for the parameter u first.
func bezier(a, b, c Point, p float64) float64 {
	qa := a.Progress - 2*b.Progress + c.Progress
	qb := 2 * (b.Progress - a.Progress)
	qc := a.Progress - p
	var u float64
	if math.Abs(qa) < 1e-12 {
		u = (p - a.Progress) / (c.Progress - a.Progress)
	} else {
		disc := qb*qb - 4*qa*qc
		if disc < 0 {
			disc = 0
		}
		u = (-qb + math.Sqrt(disc)) / (2 * qa)
		if u < 0 || u > 1 {
			u = (-qb - math.Sqrt(disc)) / (2 * qa)
		}
	}
	u = clamp(u, 0, 1)
	iu := 1 - u
	return iu*iu*a.Temp + 2*u*iu*b.Temp + u*u*c.Temp
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
