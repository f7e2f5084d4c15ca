package decoder

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/Arrow-air/svc-telemetry/internal/model"
)

// ASTM F3411 broadcast messages are fixed at 25 bytes
const netridMessageLen = 25

const (
	netridTypeBasicID  = 0x0
	netridTypeLocation = 0x1
	netridTypePack     = 0xF

	netridMaxPacked = 9
)

const (
	netridSpeedUnknown     = 255
	netridDirectionUnknown = 361
	netridLatLonScale      = 1e-7
)

var netridUAType = [...]string{
	"",
	"aeroplane",
	"rotorcraft",
	"gyroplane",
	"hybrid_lift",
	"ornithopter",
	"glider",
	"kite",
	"free_balloon",
	"captive_balloon",
	"airship",
	"parachute",
	"rocket",
	"tethered_aircraft",
	"ground_obstacle",
	"other",
}

// NetRIDDecoder decodes ASTM F3411 Remote ID messages: a single message,
// several concatenated messages, or one message pack. Identifiers in the
// output are placeholders; the ingest path binds them to the
// authenticated reporter.
type NetRIDDecoder struct{}

func NewNetRIDDecoder() *NetRIDDecoder {
	return &NetRIDDecoder{}
}

func (d *NetRIDDecoder) Format() model.Format {
	return model.FormatNetRID
}

func (d *NetRIDDecoder) Decode(payload []byte, receivedAt time.Time) ([]model.Record, error) {
	if len(payload) < netridMessageLen {
		return nil, decodeErrorf(model.FormatNetRID, "payload of %d bytes is shorter than one message", len(payload))
	}

	messages, err := netridMessages(payload)
	if err != nil {
		return nil, err
	}

	var records []model.Record
	for _, msg := range messages {
		recs, err := decodeNetRIDMessage(msg, receivedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func netridMessages(payload []byte) ([][]byte, error) {
	if payload[0]>>4 == netridTypePack {
		size, count := int(payload[1]), int(payload[2])
		if size != netridMessageLen {
			return nil, decodeErrorf(model.FormatNetRID, "message pack declares %d byte messages", size)
		}
		if count == 0 || count > netridMaxPacked {
			return nil, decodeErrorf(model.FormatNetRID, "message pack holds %d messages", count)
		}
		if len(payload) < 3+count*netridMessageLen {
			return nil, decodeErrorf(model.FormatNetRID, "message pack truncated")
		}
		payload = payload[3 : 3+count*netridMessageLen]
	} else if len(payload)%netridMessageLen != 0 {
		return nil, decodeErrorf(model.FormatNetRID, "payload of %d bytes is not a whole number of messages", len(payload))
	}

	messages := make([][]byte, 0, len(payload)/netridMessageLen)
	for off := 0; off < len(payload); off += netridMessageLen {
		messages = append(messages, payload[off:off+netridMessageLen])
	}
	return messages, nil
}

func decodeNetRIDMessage(msg []byte, receivedAt time.Time) ([]model.Record, error) {
	switch msg[0] >> 4 {
	case netridTypeBasicID:
		return []model.Record{decodeBasicID(msg, receivedAt)}, nil
	case netridTypeLocation:
		return decodeLocation(msg, receivedAt)
	case netridTypePack:
		return nil, decodeErrorf(model.FormatNetRID, "nested message pack")
	default:
		// authentication, self-ID, system and operator ID messages are
		// not forwarded
		return nil, nil
	}
}

func decodeBasicID(msg []byte, receivedAt time.Time) *model.Identity {
	uaType := int(msg[1] & 0x0F)
	assetType := ""
	if uaType < len(netridUAType) {
		assetType = netridUAType[uaType]
	}

	id := msg[2:22]
	if i := bytes.IndexByte(id, 0); i >= 0 {
		id = id[:i]
	}

	// The broadcast UAS ID travels as the callsign; the identifier is
	// the authenticated reporter.
	return &model.Identity{
		Callsign:   strings.TrimSpace(string(id)),
		AssetType:  assetType,
		Source:     model.FormatNetRID,
		ReceivedAt: receivedAt,
	}
}

func decodeLocation(msg []byte, receivedAt time.Time) ([]model.Record, error) {
	le := binary.LittleEndian
	flags := msg[1]

	lat := float64(int32(le.Uint32(msg[5:9]))) * netridLatLonScale
	lon := float64(int32(le.Uint32(msg[9:13]))) * netridLatLonScale
	if math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return nil, decodeErrorf(model.FormatNetRID, "location out of range (%f, %f)", lat, lon)
	}

	var records []model.Record
	if lat != 0 || lon != 0 {
		records = append(records, &model.Position{
			Latitude:       lat,
			Longitude:      lon,
			AltitudeMeters: netridAltitude(le.Uint16(msg[15:17])),
			Source:         model.FormatNetRID,
			ReceivedAt:     receivedAt,
		})
	}

	direction := int(msg[2])
	if flags&0x02 != 0 {
		direction += 180
	}
	if msg[3] != netridSpeedUnknown && direction < netridDirectionUnknown {
		speed := float64(msg[3]) * 0.25
		if flags&0x01 != 0 {
			speed = float64(msg[3])*0.75 + 63.75
		}
		records = append(records, &model.Velocity{
			GroundSpeedMPS:   speed,
			TrackDegrees:     float64(direction % 360),
			VerticalSpeedMPS: float64(int8(msg[4])) * 0.5,
			Source:           model.FormatNetRID,
			ReceivedAt:       receivedAt,
		})
	}

	return records, nil
}

// netridAltitude decodes the 0.5 m resolution altitude offset by -1000 m
func netridAltitude(v uint16) float64 {
	return float64(v)*0.5 - 1000
}
