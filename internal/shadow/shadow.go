// v3
// internal/shadow/shadow.go
package shadow

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownChannel is returned when a target write references a channel
// that was never declared.
var ErrUnknownChannel = errors.New("unknown channel")

// ErrInvalidTarget indicates a target write with the wrong value type, a
// value outside an enum's allowed set, or a non-controllable channel.
var ErrInvalidTarget = errors.New("invalid target")

// Kind is the value type carried by a channel.
type Kind string

const (
	Bool   Kind = "bool"
	Number Kind = "number"
	Enum   Kind = "enum"
	String Kind = "string"
)

// Channel is the desired/reported state pair for one controllable or
// read-only device attribute. Current is nil until the first observation;
// Target is nil until someone wants the attribute changed. A channel with
// both set and Current != Target is pending reconciliation.
type Channel struct {
	Key          string    `json:"key"`
	Kind         Kind      `json:"kind"`
	Current      any       `json:"current,omitempty"`
	Target       any       `json:"target,omitempty"`
	Controllable bool      `json:"controllable"`
	Allowed      []string  `json:"allowed,omitempty"` // enum values, for Kind == Enum
	LastUpdated  time.Time `json:"last_updated"`
	Stale        bool      `json:"stale"`
}

// Pending reports whether the channel has an unreconciled target.
func (c Channel) Pending() bool {
	return c.Target != nil && (c.Current == nil || c.Current != c.Target)
}

// Delta is one entry of a desired-vs-reported diff.
type Delta struct {
	Key     string
	Current any
	Target  any
}

// Store holds the channel shadows for every device. It is the single
// source of truth for what the automation wants versus what devices
// report. The reconciliation loop owning a device is the only writer of
// Current for that device's channels; the HTTP layer writes only Target.
type Store struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	order    []string
}

func NewStore() *Store {
	return &Store{channels: map[string]*Channel{}}
}

// Declare registers a channel's kind and controllability. Declaring an
// existing key updates its spec but keeps current/target values.
func (s *Store) Declare(key string, kind Kind, controllable bool, allowed ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[key]; ok {
		ch.Kind = kind
		ch.Controllable = controllable
		ch.Allowed = allowed
		return
	}
	s.channels[key] = &Channel{Key: key, Kind: kind, Controllable: controllable, Allowed: allowed}
	s.order = append(s.order, key)
}

// Observe overwrites a channel's reported value and timestamp. It never
// touches Target. Undeclared keys are created read-only with the kind
// inferred from the value, so raw telemetry fields survive without a
// schema entry. Values that do not normalize to a supported kind, like
// a nested object in the telemetry JSON, are dropped so the last-known
// value stays intact.
func (s *Store) Observe(key string, value any, at time.Time) {
	if value == nil {
		return
	}
	value, err := normalize(inferKind(value), value)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[key]
	if !ok {
		ch = &Channel{Key: key, Kind: inferKind(value)}
		s.channels[key] = ch
		s.order = append(s.order, key)
	}
	ch.Current = value
	ch.LastUpdated = at
}

// ObserveAll applies a telemetry snapshot in one lock acquisition.
func (s *Store) ObserveAll(values map[string]any, at time.Time) {
	for key, v := range values {
		s.Observe(key, v, at)
	}
}

// SetTarget records the desired value for a controllable channel. The
// write never blocks on the device; reconciliation happens asynchronously.
func (s *Store) SetTarget(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, key)
	}
	if !ch.Controllable {
		return fmt.Errorf("%w: %s is not controllable", ErrInvalidTarget, key)
	}
	v, err := normalize(ch.Kind, value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTarget, key, err)
	}
	if ch.Kind == Enum && !contains(ch.Allowed, v.(string)) {
		return fmt.Errorf("%w: %s: %q not in %v", ErrInvalidTarget, key, v, ch.Allowed)
	}
	ch.Target = v
	return nil
}

// ClearTarget removes the desired value so the channel is no longer
// reconciled.
func (s *Store) ClearTarget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[key]; ok {
		ch.Target = nil
	}
}

// Diff returns the channels whose target is set and differs from the
// reported value, in declaration order.
func (s *Store) Diff() []Delta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Delta
	for _, key := range s.order {
		ch := s.channels[key]
		if ch.Pending() {
			out = append(out, Delta{Key: key, Current: ch.Current, Target: ch.Target})
		}
	}
	return out
}

// Get returns a copy of one channel.
func (s *Store) Get(key string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[key]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// All returns copies of every channel in declaration order.
func (s *Store) All() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Channel, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.channels[key])
	}
	return out
}

// Value returns a channel's reported value, or nil when unknown.
func (s *Store) Value(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch, ok := s.channels[key]; ok {
		return ch.Current
	}
	return nil
}

// MarkStale flags or clears staleness on every channel whose key starts
// with prefix. Device loops group their channels by a device prefix.
func (s *Store) MarkStale(prefix string, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.order {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			s.channels[key].Stale = stale
		}
	}
}

func normalize(kind Kind, value any) (any, error) {
	switch kind {
	case Bool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", value)
		}
		return b, nil
	case Number:
		switch n := value.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("want number, got %T", value)
	case Enum, String:
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", value)
		}
		return str, nil
	}
	return nil, fmt.Errorf("unsupported kind %q", kind)
}

func inferKind(value any) Kind {
	switch value.(type) {
	case bool:
		return Bool
	case float64, float32, int, int64:
		return Number
	default:
		return String
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
