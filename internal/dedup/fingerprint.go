package dedup

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/Arrow-air/svc-telemetry/internal/model"
)

// Key is a record fingerprint
type Key string

// fingerprintSize is the number of hash bytes kept in a Key
const fingerprintSize = 16

var (
	encModeOnce sync.Once
	encMode     cbor.EncMode
	encModeErr  error
)

// canonicalEncoder uses Core Deterministic Encoding so equal records
// always produce identical bytes.
func canonicalEncoder() (cbor.EncMode, error) {
	encModeOnce.Do(func() {
		encMode, encModeErr = cbor.CoreDetEncOptions().EncMode()
	})
	return encMode, encModeErr
}

type fingerprintInput struct {
	Format model.Format `cbor:"1,keyasint"`
	Kind   model.Kind   `cbor:"2,keyasint"`
	Record model.Record `cbor:"3,keyasint"`
}

// Fingerprint identifies a logical telemetry event. Arrival time and trust
// flags are excluded, so a retransmission hashes the same.
func Fingerprint(format model.Format, record model.Record) (Key, error) {
	em, err := canonicalEncoder()
	if err != nil {
		return "", fmt.Errorf("dedup: cbor encoder: %w", err)
	}

	data, err := em.Marshal(fingerprintInput{Format: format, Kind: record.Kind(), Record: record})
	if err != nil {
		return "", fmt.Errorf("dedup: encoding record: %w", err)
	}

	sum := blake3.Sum256(data)
	return Key(hex.EncodeToString(sum[:fingerprintSize])), nil
}
