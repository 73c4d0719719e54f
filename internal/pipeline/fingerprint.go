package pipeline

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint is the BLAKE3 keyed hash of an event's canonical encoding.
// Two events with the same fingerprint re-encode to the same bytes.
type Fingerprint [32]byte

// fingerprintKey separates event fingerprints from any other BLAKE3 use of
// the same bytes. Changing it invalidates stored fingerprints.
var fingerprintKey = [32]byte{
	'e', 'd', 'm', '.', 'e', 'v', 'e', 'n', 't', '.', 'v', '1',
}

// FingerprintOf hashes canonical event bytes.
func FingerprintOf(data []byte) Fingerprint {
	h, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("pipeline: blake3 keyed hash initialization failed: " + err.Error())
	}
	h.Write(data)
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}
