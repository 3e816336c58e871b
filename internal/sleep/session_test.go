// v1
// internal/sleep/session_test.go
package sleep

import (
	"errors"
	"math"
	"testing"
	"time"
)

var defaultCurve = []Point{
	{Progress: 0, Temp: 0},
	{Progress: 0.25, Temp: -5},
	{Progress: 0.75, Temp: -5},
	{Progress: 1, Temp: 0},
}

func TestStartValidation(t *testing.T) {
	now := time.Date(2025, time.January, 15, 22, 0, 0, 0, time.UTC)
	wake := now.Add(8 * time.Hour)

	cases := []struct {
		name  string
		curve []Point
		wake  time.Time
	}{
		{"too few points", []Point{{0, 0}}, wake},
		{"missing start", []Point{{0.1, 0}, {1, 0}}, wake},
		{"missing end", []Point{{0, 0}, {0.9, -3}}, wake},
		{"non-increasing", []Point{{0, 0}, {0.5, -5}, {0.5, -4}, {1, 0}}, wake},
		{"wake not in future", defaultCurve, now},
		{"wake before start", defaultCurve, now.Add(-time.Hour)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := NewSession()
			if err := s.Start(now, c.wake, c.curve, 72); !errors.Is(err, ErrInvalidCurve) {
				t.Fatalf("err = %v, want ErrInvalidCurve", err)
			}
			if s.Active() {
				t.Fatalf("session active after rejected start")
			}
		})
	}
}

func TestOvernightCurveScenario(t *testing.T) {
	now := time.Date(2025, time.January, 15, 23, 0, 0, 0, time.UTC)
	wake := now.Add(8 * time.Hour)
	s := NewSession()
	if err := s.Start(now, wake, defaultCurve, 72); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Halfway through the night sits in the flat minimum.
	mid, ok := s.CurrentTarget(now.Add(4 * time.Hour))
	if !ok {
		t.Fatalf("session inactive at midpoint")
	}
	if math.Abs(mid-67) > 0.01 {
		t.Fatalf("target at progress 0.5 = %v, want ~67", mid)
	}

	// At wake the target is back to base and the session ends.
	final, ok := s.CurrentTarget(wake)
	if !ok {
		t.Fatalf("session inactive before reporting final target")
	}
	if math.Abs(final-72) > 0.01 {
		t.Fatalf("target at progress 1.0 = %v, want 72", final)
	}
	if s.Active() {
		t.Fatalf("session still active after wake")
	}
}

func TestInterpolationIsContinuous(t *testing.T) {
	now := time.Date(2025, time.January, 15, 23, 0, 0, 0, time.UTC)
	wake := now.Add(8 * time.Hour)
	s := NewSession()
	if err := s.Start(now, wake, defaultCurve, 72); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Steepest curve segment drops 5F over 0.25 progress = 20F per unit.
	// With 1000 steps over the session no step may jump more than the
	// steepest slope times the step width, padded for float error.
	const steps = 1000
	maxStep := 20.0/steps + 1e-6
	prev := s.Status(now).CurrentTarget
	for i := 1; i < steps; i++ {
		at := now.Add(time.Duration(float64(8*time.Hour) * float64(i) / steps))
		cur := s.Status(at).CurrentTarget
		if math.Abs(cur-prev) > maxStep {
			t.Fatalf("discontinuity at step %d: %v -> %v", i, prev, cur)
		}
		prev = cur
	}
}

func TestRestartReplacesSession(t *testing.T) {
	now := time.Date(2025, time.January, 15, 23, 0, 0, 0, time.UTC)
	s := NewSession()
	if err := s.Start(now, now.Add(8*time.Hour), defaultCurve, 72); err != nil {
		t.Fatalf("start: %v", err)
	}
	flat := []Point{{Progress: 0, Temp: -2}, {Progress: 1, Temp: -2}}
	if err := s.Start(now, now.Add(4*time.Hour), flat, 70); err != nil {
		t.Fatalf("restart: %v", err)
	}
	got, ok := s.CurrentTarget(now.Add(2 * time.Hour))
	if !ok || math.Abs(got-68) > 0.01 {
		t.Fatalf("target after restart = %v (ok=%v), want 68", got, ok)
	}
}

func TestCancelClearsCurve(t *testing.T) {
	now := time.Date(2025, time.January, 15, 23, 0, 0, 0, time.UTC)
	s := NewSession()
	if err := s.Start(now, now.Add(8*time.Hour), defaultCurve, 72); err != nil {
		t.Fatalf("start: %v", err)
	}
	base, ok := s.Cancel()
	if !ok || base != 72 {
		t.Fatalf("Cancel = (%v, %v), want captured base (72, true)", base, ok)
	}
	if s.Active() {
		t.Fatalf("active after cancel")
	}
	if _, ok := s.CurrentTarget(now.Add(time.Hour)); ok {
		t.Fatalf("cancelled session still reports a target")
	}
	if st := s.Status(now.Add(time.Hour)); st.Active || st.Curve != nil {
		t.Fatalf("status after cancel = %+v", st)
	}
	if _, ok := s.Cancel(); ok {
		t.Fatalf("second cancel reported an active session")
	}
}
