// Package codec provides the deterministic CBOR encoding and BLAKE3
// fingerprinting used to detect structural changes in remote project
// configuration and to serialize snapshots for the distributed tier.
package codec

import (
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/steveyegge/foundry/internal/types"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. The same
// logical value always produces identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

// fingerprintKey separates structure fingerprints from any other BLAKE3
// use. ASCII "foundry.structure", zero-padded to 32 bytes.
var fingerprintKey = [32]byte{
	'f', 'o', 'u', 'n', 'd', 'r', 'y', '.', 's', 't', 'r', 'u', 'c', 't', 'u', 'r',
	'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Snapshot timestamps need sub-second precision to round-trip.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Fingerprint returns the hex BLAKE3 keyed hash of the normalized,
// deterministically encoded structure. Two structures that differ only
// in the order of work item types or fields produce the same value.
func Fingerprint(raw *types.RawStructure) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("fingerprint: nil structure")
	}
	data, err := Marshal(raw.Normalized())
	if err != nil {
		return "", fmt.Errorf("fingerprint: encode structure: %w", err)
	}
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	_, _ = hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// EncodeSnapshot serializes a snapshot for storage in a cache tier.
func EncodeSnapshot(s *types.Snapshot) ([]byte, error) {
	data, err := Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", s.Key(), err)
	}
	return data, nil
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(data []byte) (*types.Snapshot, error) {
	var s types.Snapshot
	if err := Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}
