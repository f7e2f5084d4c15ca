package decoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/Arrow-air/svc-telemetry/internal/model"
)

const (
	mavlinkV1Magic = 0xFE
	mavlinkV2Magic = 0xFD

	mavlinkV1Header = 6
	mavlinkV2Header = 10
	mavlinkCRCLen   = 2
	mavlinkSigLen   = 13

	mavlinkIncompatSigned = 0x01

	msgIDADSBVehicle       = 246
	adsbVehicleCRCExtra    = 184
	adsbVehiclePayloadSize = 38
)

// ADSB_VEHICLE flags
const (
	adsbFlagValidCoords   = 0x0001
	adsbFlagValidAltitude = 0x0002
	adsbFlagValidHeading  = 0x0004
	adsbFlagValidVelocity = 0x0008
	adsbFlagValidCallsign = 0x0010
	adsbFlagVerticalValid = 0x0080
)

// MAVLinkDecoder extracts ADSB_VEHICLE messages from a stream of MAVLink
// v1 or v2 frames. Other messages are skipped.
type MAVLinkDecoder struct{}

func NewMAVLinkDecoder() *MAVLinkDecoder {
	return &MAVLinkDecoder{}
}

func (d *MAVLinkDecoder) Format() model.Format {
	return model.FormatMAVLink
}

type mavlinkFrame struct {
	msgID   uint32
	payload []byte
}

func (d *MAVLinkDecoder) Decode(payload []byte, receivedAt time.Time) ([]model.Record, error) {
	if len(payload) == 0 {
		return nil, decodeErrorf(model.FormatMAVLink, "empty payload")
	}

	var records []model.Record
	for rest := payload; len(rest) > 0; {
		frame, n, err := nextMAVLinkFrame(rest)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]

		if frame.msgID != msgIDADSBVehicle {
			continue
		}
		records = append(records, adsbVehicleRecords(frame.payload, receivedAt)...)
	}

	return records, nil
}

func nextMAVLinkFrame(buf []byte) (mavlinkFrame, int, error) {
	switch buf[0] {
	case mavlinkV1Magic:
		if len(buf) < mavlinkV1Header+mavlinkCRCLen {
			return mavlinkFrame{}, 0, decodeErrorf(model.FormatMAVLink, "truncated v1 header")
		}
		size := int(buf[1])
		total := mavlinkV1Header + size + mavlinkCRCLen
		if len(buf) < total {
			return mavlinkFrame{}, 0, decodeErrorf(model.FormatMAVLink, "truncated v1 frame: need %d bytes, have %d", total, len(buf))
		}
		frame := mavlinkFrame{
			msgID:   uint32(buf[5]),
			payload: buf[mavlinkV1Header : mavlinkV1Header+size],
		}
		if err := checkMAVLinkCRC(frame.msgID, buf[1:mavlinkV1Header+size], buf[mavlinkV1Header+size:total]); err != nil {
			return mavlinkFrame{}, 0, err
		}
		return frame, total, nil

	case mavlinkV2Magic:
		if len(buf) < mavlinkV2Header+mavlinkCRCLen {
			return mavlinkFrame{}, 0, decodeErrorf(model.FormatMAVLink, "truncated v2 header")
		}
		size := int(buf[1])
		total := mavlinkV2Header + size + mavlinkCRCLen
		if buf[2]&mavlinkIncompatSigned != 0 {
			total += mavlinkSigLen
		}
		if len(buf) < total {
			return mavlinkFrame{}, 0, decodeErrorf(model.FormatMAVLink, "truncated v2 frame: need %d bytes, have %d", total, len(buf))
		}
		frame := mavlinkFrame{
			msgID:   uint32(buf[7]) | uint32(buf[8])<<8 | uint32(buf[9])<<16,
			payload: buf[mavlinkV2Header : mavlinkV2Header+size],
		}
		crcEnd := mavlinkV2Header + size
		if err := checkMAVLinkCRC(frame.msgID, buf[1:crcEnd], buf[crcEnd:crcEnd+mavlinkCRCLen]); err != nil {
			return mavlinkFrame{}, 0, err
		}
		return frame, total, nil

	default:
		return mavlinkFrame{}, 0, decodeErrorf(model.FormatMAVLink, "bad start byte 0x%02x", buf[0])
	}
}

// checkMAVLinkCRC verifies the X.25 checksum for messages whose CRC extra
// byte is known. Other message IDs pass through unchecked.
func checkMAVLinkCRC(msgID uint32, covered, trailer []byte) error {
	if msgID != msgIDADSBVehicle {
		return nil
	}
	crc := uint16(0xFFFF)
	for _, b := range covered {
		crc = x25Accumulate(crc, b)
	}
	crc = x25Accumulate(crc, adsbVehicleCRCExtra)

	if got := binary.LittleEndian.Uint16(trailer); got != crc {
		return decodeErrorf(model.FormatMAVLink, "crc mismatch: frame %04x, computed %04x", got, crc)
	}
	return nil
}

func x25Accumulate(crc uint16, b byte) uint16 {
	tmp := b ^ byte(crc&0xFF)
	tmp ^= tmp << 4
	return (crc >> 8) ^ uint16(tmp)<<8 ^ uint16(tmp)<<3 ^ uint16(tmp)>>4
}

func adsbVehicleRecords(payload []byte, receivedAt time.Time) []model.Record {
	// v2 senders strip trailing zero bytes
	p := make([]byte, adsbVehiclePayloadSize)
	copy(p, payload)

	le := binary.LittleEndian
	icao := fmt.Sprintf("%06X", le.Uint32(p[0:4]))
	flags := le.Uint16(p[22:24])

	callsign := ""
	if flags&adsbFlagValidCallsign != 0 {
		raw := p[27:36]
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		callsign = strings.TrimSpace(string(raw))
	}

	records := []model.Record{&model.Identity{
		Identifier: icao,
		Callsign:   callsign,
		AssetType:  emitterCategory(int(p[36])),
		Source:     model.FormatMAVLink,
		ReceivedAt: receivedAt,
	}}

	if flags&adsbFlagValidCoords != 0 {
		pos := &model.Position{
			Identifier: icao,
			Latitude:   float64(int32(le.Uint32(p[4:8]))) * 1e-7,
			Longitude:  float64(int32(le.Uint32(p[8:12]))) * 1e-7,
			Source:     model.FormatMAVLink,
			ReceivedAt: receivedAt,
		}
		if flags&adsbFlagValidAltitude != 0 {
			pos.AltitudeMeters = float64(int32(le.Uint32(p[12:16]))) / 1000
		}
		records = append(records, pos)
	}

	if flags&adsbFlagValidHeading != 0 && flags&adsbFlagValidVelocity != 0 {
		vel := &model.Velocity{
			Identifier:     icao,
			GroundSpeedMPS: float64(le.Uint16(p[18:20])) / centimetresPerMetre,
			TrackDegrees:   float64(le.Uint16(p[16:18])) / 100,
			Source:         model.FormatMAVLink,
			ReceivedAt:     receivedAt,
		}
		if flags&adsbFlagVerticalValid != 0 {
			vel.VerticalSpeedMPS = float64(int16(le.Uint16(p[20:22]))) / centimetresPerMetre
		}
		records = append(records, vel)
	}

	return records
}
