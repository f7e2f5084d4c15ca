// Package decoder turns framed wire payloads into telemetry records.
// Decoders never touch the network; a malformed payload is reported as
// ErrDecode and never panics.
package decoder

import (
	"errors"
	"fmt"
	"time"

	"github.com/Arrow-air/svc-telemetry/internal/model"
)

// ErrDecode marks a malformed or unsupported payload
var ErrDecode = errors.New("decode error")

// Decoder converts one payload into zero or more records. Zero records
// with a nil error means the payload was valid but carried nothing the
// gateway forwards (an unsupported message type, or half of a CPR pair).
type Decoder interface {
	Format() model.Format
	Decode(payload []byte, receivedAt time.Time) ([]model.Record, error)
}

// Registry maps formats to decoders
type Registry struct {
	decoders map[model.Format]Decoder
}

func NewRegistry(decoders ...Decoder) *Registry {
	r := &Registry{decoders: make(map[model.Format]Decoder, len(decoders))}
	for _, d := range decoders {
		r.decoders[d.Format()] = d
	}
	return r
}

// NewDefaultRegistry returns decoders for every supported format
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		NewADSBDecoder(),
		NewMAVLinkDecoder(),
		NewNetRIDDecoder(),
		NewBasicDecoder(),
	)
}

// Lookup returns the decoder for format
func (r *Registry) Lookup(format model.Format) (Decoder, bool) {
	d, ok := r.decoders[format]
	return d, ok
}

func decodeErrorf(format model.Format, msg string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrDecode, format, fmt.Sprintf(msg, args...))
}

// emitterCategories is indexed by the MAVLink ADSB_EMITTER_TYPE value.
// ADS-B identification categories are mapped onto the same names.
var emitterCategories = [...]string{
	"",
	"light",
	"small",
	"large",
	"high_vortex_large",
	"heavy",
	"highly_maneuverable",
	"rotorcraft",
	"",
	"glider",
	"lighter_than_air",
	"parachute",
	"ultralight",
	"",
	"uav",
	"space",
	"",
	"emergency_surface",
	"service_surface",
	"point_obstacle",
}

func emitterCategory(i int) string {
	if i < 0 || i >= len(emitterCategories) {
		return ""
	}
	return emitterCategories[i]
}

const (
	feetToMeters        = 0.3048
	knotsToMPS          = 0.514444
	feetPerMinuteToMPS  = 0.00508
	centimetresPerMetre = 100.0
)
