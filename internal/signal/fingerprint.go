// Package signal owns the SOS event lifecycle: idempotent ingestion keyed by
// a content-derived fingerprint, CAS status transitions and atomic attempt
// counters. All mutation goes through the Store interface; the dispatch
// engine never touches storage directly.
package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Fingerprint derives the idempotency key for an ingestion: a hash of the
// originating device, the raw blob and a coarse time bucket sized to the
// replay window. A client retry inside the window lands in the same bucket
// and therefore on the same key; the session identifier is derived from it,
// never random.
func Fingerprint(deviceID, blob string, at time.Time, window time.Duration) string {
	if window <= 0 {
		window = 5 * time.Minute
	}
	// Nanosecond arithmetic keeps sub-second windows valid.
	bucket := at.UnixNano() / int64(window)

	h := sha256.New()
	h.Write([]byte(deviceID))
	h.Write([]byte{0})
	h.Write([]byte(blob))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(bucket, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// SessionID maps a fingerprint to the externally visible session identifier.
func SessionID(fingerprint string) string {
	if len(fingerprint) > 32 {
		fingerprint = fingerprint[:32]
	}
	return "SOS-" + fingerprint
}
