package decoder

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Arrow-air/svc-telemetry/internal/model"
)

// ADS-B extended squitter (DF17/DF18) frames are 112 bits
const adsbFrameLen = 14

// modesGenerator is the Mode S CRC-24 polynomial 0x1FFF409 without its
// implicit top bit.
const modesGenerator = 0xFFF409

const callsignCharset = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ##### ###############0123456789######"

// ADSBDecoder decodes raw extended squitter frames. The body is either the
// 14 raw bytes or their hex text (optionally in "*...;" AVR framing).
// Airborne positions need an even and an odd frame from the same
// aircraft, so the decoder remembers the latest of each per ICAO address.
type ADSBDecoder struct {
	pairs *cprPairs
}

func NewADSBDecoder() *ADSBDecoder {
	return &ADSBDecoder{pairs: newCPRPairs(cprPairWindow)}
}

func (d *ADSBDecoder) Format() model.Format {
	return model.FormatADSB
}

func (d *ADSBDecoder) Decode(payload []byte, receivedAt time.Time) ([]model.Record, error) {
	frame, err := adsbFrame(payload)
	if err != nil {
		return nil, err
	}

	if rem := modesCRC(frame); rem != 0 {
		return nil, decodeErrorf(model.FormatADSB, "crc mismatch (remainder %06x)", rem)
	}

	df := frame[0] >> 3
	if df != 17 && df != 18 {
		return nil, decodeErrorf(model.FormatADSB, "unsupported downlink format %d", df)
	}

	icao := fmt.Sprintf("%02X%02X%02X", frame[1], frame[2], frame[3])
	me := newMEField(frame[4:11])
	tc := me.bits(0, 5)

	switch {
	case tc >= 1 && tc <= 4:
		return []model.Record{decodeIdentification(icao, me, tc, receivedAt)}, nil
	case tc >= 9 && tc <= 18:
		rec := d.decodeAirbornePosition(icao, me, receivedAt)
		if rec == nil {
			return nil, nil
		}
		return []model.Record{rec}, nil
	case tc == 19:
		rec := decodeAirborneVelocity(icao, me, receivedAt)
		if rec == nil {
			return nil, nil
		}
		return []model.Record{rec}, nil
	default:
		return nil, nil
	}
}

func adsbFrame(payload []byte) ([]byte, error) {
	if len(payload) == adsbFrameLen {
		return payload, nil
	}

	text := strings.TrimSpace(string(payload))
	text = strings.TrimSuffix(strings.TrimPrefix(text, "*"), ";")
	if len(text) != 2*adsbFrameLen {
		return nil, decodeErrorf(model.FormatADSB, "expected %d byte frame, got %d bytes", adsbFrameLen, len(payload))
	}

	frame, err := hex.DecodeString(text)
	if err != nil {
		return nil, decodeErrorf(model.FormatADSB, "invalid hex frame: %v", err)
	}
	return frame, nil
}

// modesCRC returns the CRC-24 remainder over the whole frame. The parity
// field is appended to the message, so a clean frame yields zero.
func modesCRC(frame []byte) uint32 {
	var rem uint32
	for _, b := range frame {
		rem ^= uint32(b) << 16
		for i := 0; i < 8; i++ {
			if rem&0x800000 != 0 {
				rem = (rem << 1) ^ modesGenerator
			} else {
				rem <<= 1
			}
		}
		rem &= 0xFFFFFF
	}
	return rem
}

// meField is the 56-bit message field; bit offsets count from its MSB
type meField uint64

func newMEField(b []byte) meField {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return meField(v)
}

func (m meField) bits(offset, length int) int {
	return int((uint64(m) >> (56 - offset - length)) & (1<<length - 1))
}

func decodeIdentification(icao string, me meField, tc int, receivedAt time.Time) *model.Identity {
	var sb strings.Builder
	for i := 0; i < 8; i++ {
		sb.WriteByte(callsignCharset[me.bits(8+6*i, 6)])
	}
	callsign := strings.TrimRight(sb.String(), " #")

	return &model.Identity{
		Identifier: icao,
		Callsign:   callsign,
		AssetType:  identificationCategory(tc, me.bits(5, 3)),
		Source:     model.FormatADSB,
		ReceivedAt: receivedAt,
	}
}

// identificationCategory maps the (type code, category) pair from an
// identification message onto the shared emitter names.
func identificationCategory(tc, ca int) string {
	if ca == 0 {
		return ""
	}
	switch tc {
	case 4:
		return emitterCategory(ca)
	case 3:
		switch ca {
		case 1, 2, 3, 4, 6, 7:
			return emitterCategory(8 + ca)
		}
	case 2:
		switch ca {
		case 1:
			return emitterCategory(17)
		case 3:
			return emitterCategory(18)
		case 4, 5, 6, 7:
			return emitterCategory(19)
		}
	}
	return ""
}

// altitudeFeet decodes the 12-bit altitude code. Only 25 ft increments
// (Q bit set) are supported; Gillham-coded altitudes report ok=false.
func altitudeFeet(code int) (int, bool) {
	if code == 0 || code&0x10 == 0 {
		return 0, false
	}
	n := (code>>5)<<4 | code&0xF
	return n*25 - 1000, true
}

func (d *ADSBDecoder) decodeAirbornePosition(icao string, me meField, receivedAt time.Time) *model.Position {
	altFt, ok := altitudeFeet(me.bits(8, 12))
	if !ok {
		return nil
	}

	frame := cprFrame{
		odd:        me.bits(21, 1) == 1,
		lat:        me.bits(22, 17),
		lon:        me.bits(39, 17),
		receivedAt: receivedAt,
	}

	lat, lon, ok := d.pairs.resolve(icao, frame)
	if !ok {
		return nil
	}

	return &model.Position{
		Identifier:     icao,
		Latitude:       lat,
		Longitude:      lon,
		AltitudeMeters: float64(altFt) * feetToMeters,
		Source:         model.FormatADSB,
		ReceivedAt:     receivedAt,
	}
}

func decodeAirborneVelocity(icao string, me meField, receivedAt time.Time) *model.Velocity {
	subtype := me.bits(5, 3)
	if subtype != 1 && subtype != 2 {
		// airspeed subtypes carry heading, not ground track
		return nil
	}

	vew, vns := me.bits(14, 10), me.bits(25, 10)
	if vew == 0 || vns == 0 {
		return nil
	}

	scale := 1.0
	if subtype == 2 {
		scale = 4
	}
	vx := float64(vew-1) * scale
	if me.bits(13, 1) == 1 {
		vx = -vx
	}
	vy := float64(vns-1) * scale
	if me.bits(24, 1) == 1 {
		vy = -vy
	}

	track := math.Mod(math.Atan2(vx, vy)*180/math.Pi+360, 360)

	var vrate float64
	if vr := me.bits(37, 9); vr != 0 {
		vrate = float64(vr-1) * 64
		if me.bits(36, 1) == 1 {
			vrate = -vrate
		}
	}

	return &model.Velocity{
		Identifier:       icao,
		GroundSpeedMPS:   math.Hypot(vx, vy) * knotsToMPS,
		TrackDegrees:     track,
		VerticalSpeedMPS: vrate * feetPerMinuteToMPS,
		Source:           model.FormatADSB,
		ReceivedAt:       receivedAt,
	}
}
