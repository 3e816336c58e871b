// v1
// internal/device/driver.go
package device

import (
	"context"
	"fmt"
)

// Snapshot is one raw telemetry read: channel key to value. Keys carry
// the device prefix (heater_*, battery_*) so snapshots from different
// devices can share a shadow store.
type Snapshot map[string]any

// Driver is the narrow contract the reconciliation loop needs from a
// vendor integration. Read returns the freshest full snapshot the
// transport has; Write applies one channel's value. Both are allowed to
// be slow and flaky, the loop owns retries across ticks.
type Driver interface {
	Read(ctx context.Context) (Snapshot, error)
	Write(ctx context.Context, key string, value any) error
}

// Error wraps any transport failure from a driver. It is always
// transient from the loop's point of view: logged, counted, retried on
// the next tick, never fatal.
type Error struct {
	Device string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
