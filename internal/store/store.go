// v1
// internal/store/store.go
package store

import (
	"context"
	"time"
)

// Reading is one immutable, append-only capture of a reconciliation
// tick: the full channel snapshot plus the derived heater draw and the
// outdoor temperature from the weather collaborator. Readings are never
// mutated, only appended and queried for accounting.
type Reading struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Device       string         `json:"device"`
	Channels     map[string]any `json:"channels"`
	PowerWatts   float64        `json:"power_watts"`
	OutdoorTempF float64        `json:"outdoor_temp_f,omitempty"`
}

// Store is the append/query contract the core consumes. Implementations
// own durability; the loop never reads its own writes back within a tick.
type Store interface {
	Append(ctx context.Context, r Reading) error
	Query(ctx context.Context, from, to time.Time) ([]Reading, error)
}
