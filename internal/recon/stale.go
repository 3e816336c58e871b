// v1
// internal/recon/stale.go
package recon

import (
	"encoding/json"
	"time"

	"github.com/skortchmark9/apt-heat/internal/device"
)

// staleTracker classifies a device's telemetry as stale when readings
// keep arriving but stop changing. Some gateways return the last cached
// payload forever after the device drops off, so "reads succeed" is not
// the same as "device is alive". Two conditions must hold together:
// the monitored fields were identical for window consecutive reads, and
// the last change is older than maxAge. Any change clears both at once.
type staleTracker struct {
	window int
	maxAge time.Duration
	fields []string

	lastFP     string
	run        int
	lastChange time.Time
}

func newStaleTracker(window int, maxAge time.Duration, fields []string) *staleTracker {
	if window <= 0 {
		window = 10
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &staleTracker{window: window, maxAge: maxAge, fields: fields}
}

// observe folds one snapshot in and reports the staleness verdict.
func (st *staleTracker) observe(snap device.Snapshot, now time.Time) bool {
	fp := st.fingerprint(snap)
	if fp != st.lastFP {
		st.lastFP = fp
		st.run = 1
		st.lastChange = now
		return false
	}
	st.run++
	return st.run >= st.window && now.Sub(st.lastChange) > st.maxAge
}

// fingerprint folds the monitored fields (or the whole snapshot) into a
// comparable string. json.Marshal sorts map keys, so the encoding is
// stable across reads.
func (st *staleTracker) fingerprint(snap device.Snapshot) string {
	subject := map[string]any(snap)
	if len(st.fields) > 0 {
		subject = make(map[string]any, len(st.fields))
		for _, f := range st.fields {
			if v, ok := snap[f]; ok {
				subject[f] = v
			}
		}
	}
	b, err := json.Marshal(subject)
	if err != nil {
		return ""
	}
	return string(b)
}
