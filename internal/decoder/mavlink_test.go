package decoder

import (
	"errors"
	"testing"
	"time"

	"github.com/Arrow-air/svc-telemetry/internal/model"
)

const (
	adsbVehicleV1 = "fe26070101f6efcdab004c52401c44f4170520a107002823c4096aff1f00b004015445535430310000000e029502"
	// trailing zero (time since last communication) truncated
	adsbVehicleV2 = "fd250000070101f60000efcdab004c52401c44f4170520a107002823c4096aff1f00b004015445535430310000000e84cf"
	// HEARTBEAT, skipped without a CRC check
	heartbeatV1 = "fe09000101000000000002030351040300"
)

func checkADSBVehicle(t *testing.T, recs []model.Record) {
	t.Helper()
	if len(recs) != 3 {
		t.Fatalf("got %d records, want identity, position and velocity", len(recs))
	}

	id := recs[0].(*model.Identity)
	if id.Identifier != "ABCDEF" || id.Callsign != "TEST01" || id.AssetType != "uav" {
		t.Fatalf("unexpected identity %+v", id)
	}

	pos := recs[1].(*model.Position)
	if !near(pos.Latitude, 47.397742, 1e-6) || !near(pos.Longitude, 8.545594, 1e-6) || !near(pos.AltitudeMeters, 500, 1e-9) {
		t.Fatalf("unexpected position %+v", pos)
	}

	vel := recs[2].(*model.Velocity)
	if !near(vel.GroundSpeedMPS, 25, 1e-9) || !near(vel.TrackDegrees, 90, 1e-9) {
		t.Fatalf("unexpected velocity %+v", vel)
	}
	// vertical velocity flag not set
	if vel.VerticalSpeedMPS != 0 {
		t.Fatalf("vertical speed %f without valid flag", vel.VerticalSpeedMPS)
	}
}

func TestMAVLinkV1ADSBVehicle(t *testing.T) {
	recs, err := NewMAVLinkDecoder().Decode(mustHex(t, adsbVehicleV1), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	checkADSBVehicle(t, recs)
}

func TestMAVLinkV2TruncatedPayload(t *testing.T) {
	recs, err := NewMAVLinkDecoder().Decode(mustHex(t, adsbVehicleV2), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	checkADSBVehicle(t, recs)
}

func TestMAVLinkSkipsOtherMessages(t *testing.T) {
	stream := append(mustHex(t, heartbeatV1), mustHex(t, adsbVehicleV1)...)
	recs, err := NewMAVLinkDecoder().Decode(stream, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	checkADSBVehicle(t, recs)

	recs, err = NewMAVLinkDecoder().Decode(mustHex(t, heartbeatV1), time.Now())
	if err != nil || len(recs) != 0 {
		t.Fatalf("heartbeat only: recs=%v err=%v", recs, err)
	}
}

func TestMAVLinkRejectsMalformed(t *testing.T) {
	badCRC := mustHex(t, adsbVehicleV1)
	badCRC[len(badCRC)-1] ^= 0xFF

	cases := map[string][]byte{
		"empty":       {},
		"bad magic":   {0x55, 0x01, 0x02},
		"truncated":   mustHex(t, adsbVehicleV1)[:20],
		"bad crc":     badCRC,
		"short hdr":   {0xFD, 0x00},
		"trailing v1": append(mustHex(t, adsbVehicleV1), 0xFE),
	}
	d := NewMAVLinkDecoder()
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := d.Decode(payload, time.Now()); !errors.Is(err, ErrDecode) {
				t.Fatalf("expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestX25(t *testing.T) {
	// CRC-16/MCRF4XX check value
	crc := uint16(0xFFFF)
	for _, b := range []byte("123456789") {
		crc = x25Accumulate(crc, b)
	}
	if crc != 0x6F91 {
		t.Fatalf("crc = %04x, want 6f91", crc)
	}
}
