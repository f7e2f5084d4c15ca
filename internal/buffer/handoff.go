package buffer

import (
	"fmt"
	"time"

	"github.com/Arrow-air/svc-telemetry/internal/model"
)

// HandOff groups the three per-category buffers shared by every handler
// and the downstream readers. There is no ordering across categories.
type HandOff struct {
	Identities Buffer[model.Identity]
	Positions  Buffer[model.Position]
	Velocities Buffer[model.Velocity]
}

// NewHandOff builds one buffer per category with identical settings
func NewHandOff(bufferType string, size int, maxAge time.Duration) (*HandOff, error) {
	ids, err := New[model.Identity](bufferType, size, maxAge)
	if err != nil {
		return nil, fmt.Errorf("identity buffer: %w", err)
	}
	positions, err := New[model.Position](bufferType, size, maxAge)
	if err != nil {
		return nil, fmt.Errorf("position buffer: %w", err)
	}
	velocities, err := New[model.Velocity](bufferType, size, maxAge)
	if err != nil {
		return nil, fmt.Errorf("velocity buffer: %w", err)
	}
	return &HandOff{Identities: ids, Positions: positions, Velocities: velocities}, nil
}

// Push routes a record to its category buffer. Basic telemetry lands in
// the position buffer. It reports whether an older entry was evicted.
func (h *HandOff) Push(r model.Record) (evicted bool, err error) {
	switch rec := r.(type) {
	case *model.Identity:
		return h.Identities.Push(*rec), nil
	case *model.Position:
		return h.Positions.Push(*rec), nil
	case *model.Velocity:
		return h.Velocities.Push(*rec), nil
	case *model.BasicTelemetry:
		return h.Positions.Push(rec.ToPosition()), nil
	default:
		return false, fmt.Errorf("no buffer for %T", r)
	}
}

// Stats is a point-in-time view of one buffer
type Stats struct {
	Count    int `json:"count"`
	Capacity int `json:"capacity"`
}

// Stats reports fill levels keyed by category
func (h *HandOff) Stats() map[model.Kind]Stats {
	return map[model.Kind]Stats{
		model.KindIdentity: {Count: h.Identities.Count(), Capacity: h.Identities.Capacity()},
		model.KindPosition: {Count: h.Positions.Count(), Capacity: h.Positions.Capacity()},
		model.KindVelocity: {Count: h.Velocities.Count(), Capacity: h.Velocities.Capacity()},
	}
}

// Snapshot returns the contents of one category buffer. ok is false for
// an unknown category.
func (h *HandOff) Snapshot(kind model.Kind) (any, bool) {
	switch kind {
	case model.KindIdentity:
		return h.Identities.Snapshot(), true
	case model.KindPosition:
		return h.Positions.Snapshot(), true
	case model.KindVelocity:
		return h.Velocities.Snapshot(), true
	default:
		return nil, false
	}
}
