package decoder

import (
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/Arrow-air/svc-telemetry/internal/model"
)

var (
	basicEncMode cbor.EncMode
	basicDecMode cbor.DecMode
)

func init() {
	var err error
	basicEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("decoder: CBOR encoder initialization failed: " + err.Error())
	}

	basicDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("decoder: CBOR decoder initialization failed: " + err.Error())
	}
}

type basicWire struct {
	UUID     []byte      `cbor:"uuid"`
	Position basicCoords `cbor:"position"`
	Checksum uint32      `cbor:"checksum"`
}

type basicCoords struct {
	Latitude       float64 `cbor:"latitude"`
	Longitude      float64 `cbor:"longitude"`
	AltitudeMeters float64 `cbor:"altitude_meters"`
}

// BasicDecoder decodes CBOR-encoded basic telemetry reports. A zero
// checksum is accepted as a placeholder and the report is marked
// untrusted; any other checksum must match.
type BasicDecoder struct{}

func NewBasicDecoder() *BasicDecoder {
	return &BasicDecoder{}
}

func (d *BasicDecoder) Format() model.Format {
	return model.FormatBasic
}

func (d *BasicDecoder) Decode(payload []byte, receivedAt time.Time) ([]model.Record, error) {
	if len(payload) == 0 {
		return nil, decodeErrorf(model.FormatBasic, "empty payload")
	}

	var wire basicWire
	if err := basicDecMode.Unmarshal(payload, &wire); err != nil {
		return nil, decodeErrorf(model.FormatBasic, "invalid cbor: %v", err)
	}

	id, err := uuid.FromBytes(wire.UUID)
	if err != nil {
		return nil, decodeErrorf(model.FormatBasic, "invalid uuid: %v", err)
	}

	pos := model.Coordinates{
		Latitude:       normalizeFloat(wire.Position.Latitude),
		Longitude:      normalizeFloat(wire.Position.Longitude),
		AltitudeMeters: normalizeFloat(wire.Position.AltitudeMeters),
	}
	if err := checkCoordinates(pos); err != nil {
		return nil, err
	}

	rec := &model.BasicTelemetry{
		UUID:       id,
		Position:   pos,
		Checksum:   wire.Checksum,
		ReceivedAt: receivedAt,
	}

	if wire.Checksum != 0 {
		if want := model.ComputeChecksum(id, pos); want != wire.Checksum {
			return nil, decodeErrorf(model.FormatBasic, "checksum mismatch: got %08x, want %08x", wire.Checksum, want)
		}
		rec.Trusted = true
	}

	return []model.Record{rec}, nil
}

// EncodeBasic produces the wire form of a basic telemetry report, filling
// in the checksum.
func EncodeBasic(id uuid.UUID, pos model.Coordinates) ([]byte, error) {
	return basicEncMode.Marshal(basicWire{
		UUID: id[:],
		Position: basicCoords{
			Latitude:       pos.Latitude,
			Longitude:      pos.Longitude,
			AltitudeMeters: pos.AltitudeMeters,
		},
		Checksum: model.ComputeChecksum(id, pos),
	})
}

func checkCoordinates(pos model.Coordinates) error {
	for _, f := range []float64{pos.Latitude, pos.Longitude, pos.AltitudeMeters} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decodeErrorf(model.FormatBasic, "non-finite coordinate")
		}
	}
	if math.Abs(pos.Latitude) > 90 || math.Abs(pos.Longitude) > 180 {
		return decodeErrorf(model.FormatBasic, "coordinates out of range (%f, %f)", pos.Latitude, pos.Longitude)
	}
	return nil
}

// normalizeFloat folds -0 into +0 so equal positions compare and hash equal
func normalizeFloat(f float64) float64 {
	if f == 0 {
		return 0
	}
	return f
}
