package model

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"time"

	"github.com/google/uuid"
)

// Format identifies the wire format a payload arrived in
type Format string

const (
	FormatADSB    Format = "adsb"
	FormatMAVLink Format = "mavlink"
	FormatNetRID  Format = "netrid"
	FormatBasic   Format = "basic"
)

// Kind identifies the variant of a decoded record
type Kind string

const (
	KindIdentity Kind = "identity"
	KindPosition Kind = "position"
	KindVelocity Kind = "velocity"
	KindBasic    Kind = "basic"
)

// Envelope is a raw inbound payload before decoding. It is never persisted.
type Envelope struct {
	Format     Format
	Payload    []byte
	ReceivedAt time.Time
}

// Record is one decoded telemetry variant: *Identity, *Position,
// *Velocity or *BasicTelemetry.
type Record interface {
	Kind() Kind
	AssetID() string
}

// Identity describes who an asset is
type Identity struct {
	Identifier string    `json:"identifier"`
	Callsign   string    `json:"callsign,omitempty"`
	AssetType  string    `json:"asset_type,omitempty"`
	Source     Format    `json:"source"`
	ReceivedAt time.Time `json:"received_at" cbor:"-"`
}

func (i *Identity) Kind() Kind      { return KindIdentity }
func (i *Identity) AssetID() string { return i.Identifier }

// Position is a global location report
type Position struct {
	Identifier     string    `json:"identifier"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AltitudeMeters float64   `json:"altitude_meters"`
	Source         Format    `json:"source"`
	ReceivedAt     time.Time `json:"received_at" cbor:"-"`
}

func (p *Position) Kind() Kind      { return KindPosition }
func (p *Position) AssetID() string { return p.Identifier }

// Velocity is a ground track and climb rate report
type Velocity struct {
	Identifier       string    `json:"identifier"`
	GroundSpeedMPS   float64   `json:"ground_speed_mps"`
	TrackDegrees     float64   `json:"track_degrees"`
	VerticalSpeedMPS float64   `json:"vertical_speed_mps"`
	Source           Format    `json:"source"`
	ReceivedAt       time.Time `json:"received_at" cbor:"-"`
}

func (v *Velocity) Kind() Kind      { return KindVelocity }
func (v *Velocity) AssetID() string { return v.Identifier }

// Coordinates is the position block carried by BasicTelemetry
type Coordinates struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AltitudeMeters float64 `json:"altitude_meters"`
}

// BasicTelemetry is the reduced-bandwidth report sent during nominal flight.
// Trusted is false when the reporter sent a zero (placeholder) checksum.
type BasicTelemetry struct {
	UUID       uuid.UUID   `json:"uuid"`
	Position   Coordinates `json:"position"`
	Checksum   uint32      `json:"checksum"`
	Trusted    bool        `json:"trusted" cbor:"-"`
	ReceivedAt time.Time   `json:"received_at" cbor:"-"`
}

func (b *BasicTelemetry) Kind() Kind      { return KindBasic }
func (b *BasicTelemetry) AssetID() string { return b.UUID.String() }

// ToPosition converts the report into a position record for the hand-off buffers
func (b *BasicTelemetry) ToPosition() Position {
	return Position{
		Identifier:     b.UUID.String(),
		Latitude:       b.Position.Latitude,
		Longitude:      b.Position.Longitude,
		AltitudeMeters: b.Position.AltitudeMeters,
		Source:         FormatBasic,
		ReceivedAt:     b.ReceivedAt,
	}
}

// ComputeChecksum returns the CRC-32 (IEEE) over the UUID bytes followed by
// latitude, longitude and altitude as big-endian IEEE-754 doubles. -0 is
// folded into +0 so equal positions always hash equal.
func ComputeChecksum(id uuid.UUID, pos Coordinates) uint32 {
	buf := make([]byte, 0, 16+3*8)
	buf = append(buf, id[:]...)
	for _, f := range []float64{pos.Latitude, pos.Longitude, pos.AltitudeMeters} {
		if f == 0 {
			f = 0
		}
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
	}
	return crc32.ChecksumIEEE(buf)
}

// BindSubject tags a record with the authenticated reporter identifier
func BindSubject(r Record, subject string) {
	switch rec := r.(type) {
	case *Identity:
		rec.Identifier = subject
	case *Position:
		rec.Identifier = subject
	case *Velocity:
		rec.Identifier = subject
	}
}
